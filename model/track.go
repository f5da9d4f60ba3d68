package model

import "time"

// TrackStatus describes where a track is in its processing lifecycle.
type TrackStatus string

const (
	StatusPending    TrackStatus = "PENDING"    // uploaded, waiting for processing
	StatusProcessing TrackStatus = "PROCESSING" // transcode/publish in progress
	StatusReady      TrackStatus = "READY"      // processed, manifest URL available
	StatusError      TrackStatus = "ERROR"      // processing failed
)

// ManifestType is the segmented stream flavor of a ready track.
type ManifestType string

const (
	ManifestHLS  ManifestType = "HLS"
	ManifestDASH ManifestType = "DASH"
)

// ParseManifestType maps an output format string onto a ManifestType.
func ParseManifestType(s string) (ManifestType, bool) {
	switch ManifestType(s) {
	case ManifestHLS:
		return ManifestHLS, true
	case ManifestDASH:
		return ManifestDASH, true
	default:
		return "", false
	}
}

// Track represents an audio track in the library.
//
// Title, Artist, Album, TrackNumber and DurationMS are nullable: either
// supplied by the user at creation or backfilled from extracted metadata
// during processing. User-supplied values are never overwritten.
// ManifestURL and ManifestType are set together, and only once the track
// reaches READY. ErrorMessage is populated only while status is ERROR.
type Track struct {
	ID           int64         `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64         `json:"userId" gorm:"not null;index"`
	Title        *string       `json:"title" gorm:"size:200"`
	Artist       *string       `json:"artist" gorm:"size:200"`
	Album        *string       `json:"album" gorm:"size:200"`
	TrackNumber  *int          `json:"trackNumber"`
	DurationMS   *int64        `json:"durationMs"`
	Status       TrackStatus   `json:"status" gorm:"size:16;not null;default:PENDING;index"`
	ManifestURL  *string       `json:"manifestUrl" gorm:"size:1024"`
	ManifestType *ManifestType `json:"manifestType" gorm:"size:8"`
	ErrorMessage *string       `json:"errorMessage" gorm:"type:text"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// TableName sets the table name for GORM.
func (Track) TableName() string {
	return "tracks"
}

// StatusInfo is the minimal polling shape exposed to API clients while a
// track is being processed.
type StatusInfo struct {
	ID           int64       `json:"id"`
	Status       TrackStatus `json:"status"`
	ErrorMessage *string     `json:"errorMessage"`
}
