// Package handlers defines the error codes returned by the admin API.
//
// Every error response carries an HTTP status plus one of these stable,
// snake_case codes inside the envelope written by Fail:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "run_in_progress",
//	  "message": "harvest run already in progress"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "service_unavailable"

	// Harvest specific:
	ErrCodeRunInProgress       = "run_in_progress"
	ErrCodeEndpointUnreachable = "endpoint_unreachable"
	ErrCodeUnsupportedPrefix   = "unsupported_prefix"
	ErrCodeStatsFailed         = "stats_failed"
	ErrCodeListFailed          = "list_failed"
)
