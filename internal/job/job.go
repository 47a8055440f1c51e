// Package job defines the server-owned asset-processing job and asset
// records as they appear on the Asset API wire, plus the transient audio
// chunk produced by segmentation.
package job

import (
	"fmt"
	"time"
)

// Status represents the server-visible state of an asset-processing job.
// The wire representation is lowercase snake_case.
type Status string

const (
	// StatusCreated indicates the job is waiting to be picked up.
	StatusCreated Status = "created"
	// StatusInProgress indicates a worker is processing the job.
	StatusInProgress Status = "in_progress"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the last worker run terminated with an error.
	StatusFailed Status = "failed"
	// StatusStuck indicates the server (or scheduler) reclaimed a job whose
	// worker stopped heartbeating.
	StatusStuck Status = "stuck"
	// StatusMaxAttemptsExceeded indicates the retry bound was reached.
	StatusMaxAttemptsExceeded Status = "max_attempts_exceeded"
)

// IsValid returns true if the status is one of the known job states.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusInProgress, StatusCompleted, StatusFailed,
		StatusStuck, StatusMaxAttemptsExceeded:
		return true
	default:
		return false
	}
}

// FileType identifies the kind of asset a job operates on.
type FileType string

const (
	FileTypeText     FileType = "text"
	FileTypeMarkdown FileType = "markdown"
	FileTypeAudio    FileType = "audio"
	FileTypeVideo    FileType = "video"
)

// Job is an asset-processing job as returned by the Asset API.
// The server owns this record; the service never mutates it locally beyond
// what it patches back over HTTP.
type Job struct {
	ID            string     `json:"id"`
	AssetID       string     `json:"assetId"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastHeartBeat *time.Time `json:"lastHeartBeat,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// Asset is the media artifact a job operates on.
type Asset struct {
	ID       string   `json:"id"`
	FileName string   `json:"fileName"`
	FileURL  string   `json:"fileUrl"`
	FileType FileType `json:"fileType"`
	MimeType string   `json:"mimeType"`
	Size     int64    `json:"size"`
	Content  string   `json:"content,omitempty"`
}

// AudioChunk is a size-bounded MP3 segment produced by the segmenter.
// Chunks are transient: they live in memory and in the job workspace only
// for the duration of a worker run.
type AudioChunk struct {
	// FileName is the chunk's base name, `<stem>_chunk_<i:03d>.mp3`.
	// The zero-padded index keeps lexicographic order equal to temporal order.
	FileName string
	// Size is the chunk's byte length.
	Size int64
	// Data is the chunk content.
	Data []byte
}

// ChunkFileName builds the canonical chunk name for the given stem and index.
func ChunkFileName(stem string, index int) string {
	return fmt.Sprintf("%s_chunk_%03d.mp3", stem, index)
}
