package domain

import (
	"time"

	"gorm.io/datatypes"
)

// FileRecord is the normalized metadata of one file belonging to a dataset.
// A file is unique per (dataset_pid, name, link); when FilePID is present,
// upserts are keyed on it instead.
//
// Optional attributes are pointers so that "unknown" is representable:
// AccessRequest in particular is tri-state (true, false, unknown).
type FileRecord struct {
	ID uint `json:"id" gorm:"primaryKey"`

	Name       string `json:"name"        gorm:"column:name;not null;uniqueIndex:uq_file_record,priority:2"`
	Link       string `json:"link"        gorm:"column:link;not null;uniqueIndex:uq_file_record,priority:3"`
	DatasetPID string `json:"dataset_pid" gorm:"column:dataset_pid;not null;index;uniqueIndex:uq_file_record,priority:1"`

	Size            *int64     `json:"size,omitempty"             gorm:"column:size;type:bigint"`
	MimeType        *string    `json:"mime_type,omitempty"        gorm:"column:mime_type"`
	Ext             *string    `json:"ext,omitempty"              gorm:"column:ext"`
	ChecksumValue   *string    `json:"checksum_value,omitempty"   gorm:"column:checksum_value"`
	ChecksumType    *string    `json:"checksum_type,omitempty"    gorm:"column:checksum_type"`
	AccessRequest   *bool      `json:"access_request,omitempty"   gorm:"column:access_request"`
	PublicationDate *time.Time `json:"publication_date,omitempty" gorm:"column:publication_date;type:timestamp;index"`
	Embargo         *time.Time `json:"embargo,omitempty"          gorm:"column:embargo;type:timestamp;index"`
	FilePID         *string    `json:"file_pid,omitempty"         gorm:"column:file_pid;index"`

	LastUpdated time.Time `json:"last_updated" gorm:"column:last_updated;type:timestamp;not null;autoUpdateTime"`
}

// TableName returns the database table name for FileRecord.
func (FileRecord) TableName() string { return "file_metadata" }

// RawRecord stores the raw metadata document of a dataset exactly as the
// resolution service returned it. There is at most one per dataset.
type RawRecord struct {
	ID          uint           `json:"id"           gorm:"primaryKey"`
	DatasetPID  string         `json:"dataset_pid"  gorm:"column:dataset_pid;not null;uniqueIndex:uq_file_raw_record"`
	RawMetadata datatypes.JSON `json:"raw_metadata" gorm:"column:raw_metadata;not null"`
	LastUpdated time.Time      `json:"last_updated" gorm:"column:last_updated;type:timestamp;not null;autoUpdateTime"`
}

// TableName returns the database table name for RawRecord.
func (RawRecord) TableName() string { return "file_raw_metadata" }

// FileUpdate is the set of FileRecord fields carried by one incoming file
// descriptor. A nil pointer means "not present": the field is left untouched
// when an existing row is updated.
type FileUpdate struct {
	DatasetPID      *string
	Name            *string
	Link            *string
	Size            *int64
	MimeType        *string
	Ext             *string
	ChecksumValue   *string
	ChecksumType    *string
	AccessRequest   *bool
	PublicationDate *time.Time
	Embargo         *time.Time
	FilePID         *string
}

// Changes returns the present fields keyed by column name.
func (u FileUpdate) Changes() map[string]any {
	out := make(map[string]any, 12)
	putString := func(col string, v *string) {
		if v != nil {
			out[col] = *v
		}
	}
	putTime := func(col string, v *time.Time) {
		if v != nil {
			out[col] = *v
		}
	}
	putString("dataset_pid", u.DatasetPID)
	putString("name", u.Name)
	putString("link", u.Link)
	if u.Size != nil {
		out["size"] = *u.Size
	}
	putString("mime_type", u.MimeType)
	putString("ext", u.Ext)
	putString("checksum_value", u.ChecksumValue)
	putString("checksum_type", u.ChecksumType)
	if u.AccessRequest != nil {
		out["access_request"] = *u.AccessRequest
	}
	putTime("publication_date", u.PublicationDate)
	putTime("embargo", u.Embargo)
	putString("file_pid", u.FilePID)
	return out
}

// HasFilePID reports whether the update carries a non-empty file PID.
func (u FileUpdate) HasFilePID() bool { return u.FilePID != nil && *u.FilePID != "" }

// HasNaturalKey reports whether dataset_pid, name and link are all present.
func (u FileUpdate) HasNaturalKey() bool {
	return u.DatasetPID != nil && u.Name != nil && u.Link != nil
}

// NewRecord builds a FileRecord for insertion. The caller must ensure the
// natural key is present.
func (u FileUpdate) NewRecord(now time.Time) *FileRecord {
	rec := &FileRecord{
		Size:            u.Size,
		MimeType:        u.MimeType,
		Ext:             u.Ext,
		ChecksumValue:   u.ChecksumValue,
		ChecksumType:    u.ChecksumType,
		AccessRequest:   u.AccessRequest,
		PublicationDate: u.PublicationDate,
		Embargo:         u.Embargo,
		FilePID:         u.FilePID,
		LastUpdated:     now,
	}
	if u.DatasetPID != nil {
		rec.DatasetPID = *u.DatasetPID
	}
	if u.Name != nil {
		rec.Name = *u.Name
	}
	if u.Link != nil {
		rec.Link = *u.Link
	}
	return rec
}
