package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the remote store holds no document yet.
	ErrNotFound = errors.New("document not found")
	// ErrConflict means the version token sent with a write is stale.
	ErrConflict = errors.New("version conflict")
)

// ConflictError carries the versions involved in a rejected conditional write.
type ConflictError struct {
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %q, current %q", e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Snapshot is a document body as stored remotely together with its version token.
type Snapshot struct {
	Content []byte
	Version string
}

// Versioned is a remote store that keeps the whole document as one blob
// identified by an opaque version token. Put with an empty version creates
// the document; Put with a stale version fails with ErrConflict.
type Versioned interface {
	Fetch(ctx context.Context) (Snapshot, error)
	Put(ctx context.Context, content []byte, version, message string) (string, error)
	Name() string
}

// Revision describes one accepted write in a store that keeps history.
type Revision struct {
	Version   string    `json:"version"`
	Parent    string    `json:"parent,omitempty"`
	Message   string    `json:"message"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Historian is implemented by stores that can list past revisions, newest first.
type Historian interface {
	History(ctx context.Context, limit int) ([]Revision, error)
}
