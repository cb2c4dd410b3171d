package domain

import (
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	// StatusBanned is terminal. Rejected and banned submissions keep their
	// row and flip to this status; nothing is physically deleted.
	StatusBanned Status = "banned"

	// StatusAny is a listing filter, never stored.
	StatusAny Status = ""
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusBanned:
		return true
	}
	return false
}

type FileType string

const (
	FileTypeMedia   FileType = "media"
	FileTypeArchive FileType = "archive"
)

type CheckIn struct {
	ID           int64        `json:"id"`
	Content      string       `json:"content"`
	MediaFiles   []string     `json:"media_files"`
	CreatedAt    time.Time    `json:"created_at"`
	IPAddress    string       `json:"-"`
	Nickname     string       `json:"nickname"`
	Email        string       `json:"email,omitempty"`
	QQ           string       `json:"qq,omitempty"`
	URL          string       `json:"url,omitempty"`
	Avatar       string       `json:"avatar"`
	Love         int          `json:"love"`
	FileType     FileType     `json:"file_type"`
	ArchiveMeta  *ArchiveMeta `json:"archive_metadata,omitempty"`
	Status       Status       `json:"status"`
	ReviewReason string       `json:"review_reason,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`
}

// ArchiveMeta describes an attached archive. It is immutable once the
// owning CheckIn is persisted.
type ArchiveMeta struct {
	Filename    string   `json:"filename"`
	Size        int64    `json:"size"`
	TotalFiles  int      `json:"total_files"`
	ImageCount  int      `json:"image_count"`
	PreviewURLs []string `json:"preview_images,omitempty"`
	StoredAs    string   `json:"-"`
}

// PreviewImage is a thumbnail rendering of one archive entry, produced by
// the extractor and returned to the caller without being persisted.
type PreviewImage struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type SubmitParams struct {
	Content  string
	Nickname string
	Email    string
	QQ       string
	URL      string
	Avatar   string
	IP       string

	MediaFiles  []string
	ArchiveName string
	ArchivePath string

	// Honeypot is the decoy form field; any non-whitespace value marks the
	// submitter as a bot. IssuedAt is the form-issued unix timestamp.
	Honeypot string
	IssuedAt string
}

const (
	DefaultNickname = "anon"
	DefaultAvatar   = "🙂"
)
