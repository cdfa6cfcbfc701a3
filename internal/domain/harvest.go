// Package domain defines the persistence models for harvest tracking, file
// metadata and raw provenance records. These types are mapped with GORM and
// form the core data layer of the harvester.
package domain

import "time"

// HarvestStatus is the processing state of a harvested identifier.
type HarvestStatus string

const (
	// StatusPending marks an identifier observed by a fetch but not yet processed.
	StatusPending HarvestStatus = "pending"
	// StatusDone marks an identifier whose raw and file records were persisted.
	StatusDone HarvestStatus = "done"
	// StatusError marks an identifier whose processing failed.
	StatusError HarvestStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s HarvestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDone, StatusError:
		return true
	}
	return false
}

// HarvestRecord tracks one upstream identifier for one endpoint.
//
// Fields:
//   - EndpointID / PID: composite primary key. PID is the identifier exactly
//     as reported upstream (prefix included, e.g. "doi:10.1/x").
//   - Status: pending on first insert; moved to done or error by processing.
//   - Datestamp: upstream last-modified time; the resumption watermark.
//   - UpdatedAt: time of the last status transition.
type HarvestRecord struct {
	EndpointID string        `json:"endpoint_id"         gorm:"column:endpoint_id;primaryKey"`
	PID        string        `json:"pid"                 gorm:"column:pid;primaryKey"`
	Status     HarvestStatus `json:"status"              gorm:"column:status;type:varchar(16);not null;default:'pending';index;check:status IN ('pending','done','error')"`
	Datestamp  *time.Time    `json:"datestamp,omitempty" gorm:"column:datestamp;index"`
	UpdatedAt  time.Time     `json:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the database table name for HarvestRecord.
func (HarvestRecord) TableName() string { return "harvest_pids" }

// Endpoint describes one OAI-PMH harvest source.
type Endpoint struct {
	ID             string `json:"id"              yaml:"id"`
	Name           string `json:"name"            yaml:"name"`
	OAIURL         string `json:"oai_url"         yaml:"oai_url"`
	MetadataPrefix string `json:"metadata_prefix" yaml:"metadata_prefix"`
}
