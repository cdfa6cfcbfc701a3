// Package services defines the harvest business logic. This file centralizes
// service-level error values so that callers can check them with errors.Is.
//
// Translation into HTTP status codes or CLI exit codes is performed by the
// handler and command layers.
package services

import "errors"

var (
	// ErrUnknownEndpoint indicates that no configured endpoint has the given id.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrRunInProgress is returned when a run is requested for an endpoint
	// that already has one in flight.
	ErrRunInProgress = errors.New("harvest run already in progress")

	// ErrRawRecordConflict marks an identifier whose dataset already has a
	// raw metadata record.
	ErrRawRecordConflict = errors.New("raw record already exists")
)
