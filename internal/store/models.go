package store

import (
	"encoding/json"
	"time"
)

type Document struct {
	ID        string
	Title     string
	Content   json.RawMessage
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentSummary is a document row without its content.
type DocumentSummary struct {
	ID          string
	Title       string
	Version     int64
	UpdatedAt   time.Time
	PublishedAt *time.Time
}

type Publication struct {
	ID              int64
	DocumentID      string
	DocumentVersion int64
	Title           string
	BodyText        string
	Digest          string
	CommitHash      string
	ObjectKey       string
	PublishedAt     time.Time
}

// PublishedPage is the searchable view of a document's latest publication.
type PublishedPage struct {
	DocumentID  string
	Title       string
	BodyText    string
	PublishedAt time.Time
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}
