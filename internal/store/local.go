package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// ErrLocalMissing is returned by LocalFile.Read when the cache file does not exist.
var ErrLocalMissing = errors.New("local document missing")

// LocalFile keeps the document as a single pretty-printed JSON file. It is a
// cache of the remote copy when one is configured.
type LocalFile struct {
	path string
}

func NewLocalFile(path string) *LocalFile {
	return &LocalFile{path: path}
}

func (f *LocalFile) Path() string {
	return f.path
}

// Read loads the file. Hand edits with comments or trailing commas are tolerated.
func (f *LocalFile) Read() (Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, ErrLocalMissing
		}
		return Document{}, fmt.Errorf("read local document: %w", err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Document{}, fmt.Errorf("parse local document: %w", err)
	}
	return Decode(standardized)
}

// Write replaces the file atomically.
func (f *LocalFile) Write(doc Document) error {
	payload, err := Encode(doc)
	if err != nil {
		return err
	}
	return f.WriteRaw(payload)
}

func (f *LocalFile) WriteRaw(payload []byte) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create local document dir: %w", err)
		}
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write local document: %w", err)
	}
	// atomic.WriteFile leaves temp-file permissions on new files
	if err := os.Chmod(f.path, 0o644); err != nil {
		return fmt.Errorf("chmod local document: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable file aside so it can be inspected later.
func (f *LocalFile) Quarantine(now time.Time) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%s", f.path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(f.path, target); err != nil {
		return "", fmt.Errorf("quarantine local document: %w", err)
	}
	return target, nil
}
