// Package persist decides where the document lives. Reads prefer the remote
// store and fall back to the local file; writes go to the remote store with
// optimistic-concurrency retries and degrade to the local file when the
// remote store keeps refusing them.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tomorrow/api/internal/store"
)

// ErrLocalWrite is returned when neither the remote store nor the local file
// accepted a write.
var ErrLocalWrite = errors.New("local document write failed")

const (
	maxAttempts    = 3
	defaultMessage = "Update database (auto)"
)

// DefaultUpdateTimeout bounds the remote part of one Update. When it runs out
// the write still lands in the local file.
const DefaultUpdateTimeout = 45 * time.Second

// Mode selects how Update handles concurrent writers.
type Mode string

const (
	// ModeSerialized runs load, mutate and save under one lock and re-applies
	// the mutation to a fresh document when the remote store reports a conflict.
	ModeSerialized Mode = "serialized"
	// ModeLastWriterWins is a plain load, mutate, save. Concurrent writers can
	// overwrite each other's changes.
	ModeLastWriterWins Mode = "last-writer-wins"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case "", ModeSerialized:
		return ModeSerialized, nil
	case ModeLastWriterWins:
		return ModeLastWriterWins, nil
	default:
		return "", fmt.Errorf("unknown write mode %q", value)
	}
}

// Recorder receives persistence metrics.
type Recorder interface {
	RemoteAttempt(driver, result string)
	Fallback(op string)
	SetDegraded(degraded bool)
}

type nopRecorder struct{}

func (nopRecorder) RemoteAttempt(string, string) {}
func (nopRecorder) Fallback(string)              {}
func (nopRecorder) SetDegraded(bool)             {}

type Options struct {
	// Remote is optional; nil keeps the document in the local file only.
	Remote  store.Versioned
	Local   *store.LocalFile
	Mode    Mode
	Logger  zerolog.Logger
	Metrics Recorder
	// Backoff returns the pause after the given failed attempt.
	Backoff func(attempt int) time.Duration
	// UpdateTimeout defaults to DefaultUpdateTimeout.
	UpdateTimeout time.Duration
	Now           func() time.Time
}

type Coordinator struct {
	remote  store.Versioned
	local   *store.LocalFile
	mode    Mode
	state   *State
	log     zerolog.Logger
	metrics Recorder
	backoff func(attempt int) time.Duration
	timeout time.Duration
	now     func() time.Time

	// writeMu serializes Update in ModeSerialized.
	writeMu chan struct{}
}

func New(opts Options) *Coordinator {
	mode := opts.Mode
	if mode == "" {
		mode = ModeSerialized
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = nopRecorder{}
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = func(attempt int) time.Duration { return time.Duration(attempt) * 100 * time.Millisecond }
	}
	timeout := opts.UpdateTimeout
	if timeout <= 0 {
		timeout = DefaultUpdateTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	driver := ""
	if opts.Remote != nil {
		driver = opts.Remote.Name()
	}
	return &Coordinator{
		remote:  opts.Remote,
		local:   opts.Local,
		mode:    mode,
		state:   newState(driver, opts.Remote != nil, mode, opts.Local.Path()),
		log:     opts.Logger.With().Str("component", "persist").Str("driver", driver).Logger(),
		metrics: recorder,
		backoff: backoff,
		timeout: timeout,
		now:     now,
		writeMu: make(chan struct{}, 1),
	}
}

func (c *Coordinator) Health() Health {
	return c.state.Snapshot()
}

type loaded struct {
	doc     store.Document
	version string
	// remote is true when the remote store answered, including "no document yet".
	remote bool
}

// Load returns the current document and the remote version token it was read
// at. It never fails: an unreachable or unreadable remote store falls back to
// the local file, and a missing or corrupt local file falls back to defaults.
func (c *Coordinator) Load(ctx context.Context) (store.Document, string) {
	result := c.load(ctx)
	return result.doc, result.version
}

func (c *Coordinator) load(ctx context.Context) loaded {
	if c.remote != nil {
		doc, version, err := c.fetch(ctx)
		switch {
		case err == nil:
			if werr := c.local.Write(doc); werr != nil {
				c.log.Warn().Err(werr).Msg("mirror document to local file")
			}
			if c.state.Snapshot().Degraded {
				c.log.Warn().Str("version", version).Msg("remote document read while local writes are unsynced")
			}
			return loaded{doc: doc, version: version, remote: true}
		case errors.Is(err, store.ErrNotFound):
			c.log.Info().Msg("remote document missing, using local file")
			return loaded{doc: c.loadLocal(), remote: true}
		default:
			c.state.failed(err, false, c.now())
			c.metrics.Fallback("load")
			c.log.Warn().Err(err).Msg("remote read failed, using local file")
		}
	}
	return loaded{doc: c.loadLocal()}
}

func (c *Coordinator) fetch(ctx context.Context) (store.Document, string, error) {
	snapshot, err := c.remote.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.metrics.RemoteAttempt(c.remote.Name(), "error")
		}
		return store.Document{}, "", err
	}
	doc, err := store.Decode(snapshot.Content)
	if err != nil {
		c.metrics.RemoteAttempt(c.remote.Name(), "malformed")
		return store.Document{}, "", err
	}
	c.metrics.RemoteAttempt(c.remote.Name(), "ok")
	c.state.observed(snapshot.Version, c.now())
	return doc, snapshot.Version, nil
}

func (c *Coordinator) loadLocal() store.Document {
	doc, err := c.local.Read()
	if err == nil {
		return doc
	}
	if !errors.Is(err, store.ErrLocalMissing) {
		c.log.Error().Err(err).Str("path", c.local.Path()).Msg("local document unreadable, reinitializing")
		if moved, qerr := c.local.Quarantine(c.now()); qerr != nil {
			c.log.Error().Err(qerr).Msg("move unreadable local document aside")
		} else {
			c.log.Warn().Str("path", moved).Msg("unreadable local document kept")
		}
	}
	doc = store.Default()
	if werr := c.local.Write(doc); werr != nil {
		c.log.Error().Err(werr).Str("path", c.local.Path()).Msg("initialize local document")
	}
	return doc
}

// Save writes doc. Each remote attempt reads the current version token right
// before the conditional write, so Save overwrites whatever the remote store
// holds at that moment. Only a failed local write is reported as an error.
func (c *Coordinator) Save(ctx context.Context, doc store.Document) error {
	return c.save(ctx, doc, defaultMessage)
}

func (c *Coordinator) save(ctx context.Context, doc store.Document, message string) error {
	payload, err := store.Encode(doc)
	if err != nil {
		return err
	}
	if c.remote == nil {
		return c.writeLocal(payload)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var current string
		snapshot, err := c.remote.Fetch(ctx)
		switch {
		case err == nil:
			current = snapshot.Version
		case errors.Is(err, store.ErrNotFound):
		default:
			c.metrics.RemoteAttempt(c.remote.Name(), "error")
			return c.degrade(payload, err)
		}

		version, err := c.put(ctx, payload, current, message)
		if err == nil {
			c.saved(payload, version)
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return c.degrade(payload, err)
		}
		lastErr = err
		if attempt < maxAttempts {
			if err := c.sleep(ctx, attempt); err != nil {
				return c.degrade(payload, err)
			}
		}
	}
	return c.degrade(payload, fmt.Errorf("%d conflicting attempts: %w", maxAttempts, lastErr))
}

// Update applies mutate to a freshly loaded document and saves the result.
// An error from mutate aborts without saving and is returned unchanged.
func (c *Coordinator) Update(ctx context.Context, message string, mutate func(*store.Document) error) (store.Document, error) {
	if message == "" {
		message = defaultMessage
	}
	if c.mode == ModeLastWriterWins {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		doc, _ := c.Load(ctx)
		if err := mutate(&doc); err != nil {
			return store.Document{}, err
		}
		return doc, c.save(ctx, doc, message)
	}

	select {
	case c.writeMu <- struct{}{}:
	case <-ctx.Done():
		return store.Document{}, ctx.Err()
	}
	defer func() { <-c.writeMu }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		doc     store.Document
		payload []byte
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current := c.load(ctx)
		doc = current.doc
		if err := mutate(&doc); err != nil {
			return store.Document{}, err
		}
		var err error
		if payload, err = store.Encode(doc); err != nil {
			return store.Document{}, err
		}
		if c.remote == nil {
			return doc, c.writeLocal(payload)
		}
		if !current.remote {
			// the read already failed; a write now would go out blind
			return doc, c.degrade(payload, errors.New("remote store unreadable"))
		}

		version, err := c.put(ctx, payload, current.version, message)
		if err == nil {
			c.saved(payload, version)
			return doc, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return doc, c.degrade(payload, err)
		}
		lastErr = err
		c.log.Info().Int("attempt", attempt).Str("version", current.version).Msg("remote conflict, re-applying update")
		if attempt < maxAttempts {
			if err := c.sleep(ctx, attempt); err != nil {
				return doc, c.degrade(payload, err)
			}
		}
	}
	return doc, c.degrade(payload, fmt.Errorf("%d conflicting attempts: %w", maxAttempts, lastErr))
}

func (c *Coordinator) put(ctx context.Context, payload []byte, version, message string) (string, error) {
	next, err := c.remote.Put(ctx, payload, version, message)
	switch {
	case err == nil:
		c.metrics.RemoteAttempt(c.remote.Name(), "ok")
	case errors.Is(err, store.ErrConflict):
		c.metrics.RemoteAttempt(c.remote.Name(), "conflict")
	default:
		c.metrics.RemoteAttempt(c.remote.Name(), "error")
	}
	return next, err
}

func (c *Coordinator) saved(payload []byte, version string) {
	c.state.written(version, c.now())
	c.metrics.SetDegraded(false)
	if err := c.local.WriteRaw(payload); err != nil {
		c.log.Warn().Err(err).Msg("mirror document to local file")
	}
}

// degrade keeps the write in the local file after the remote store refused it.
func (c *Coordinator) degrade(payload []byte, cause error) error {
	c.state.failed(cause, true, c.now())
	c.metrics.Fallback("save")
	c.metrics.SetDegraded(true)
	c.log.Warn().Err(cause).Str("version", c.state.Version()).Msg("remote write failed, keeping document in local file")
	return c.writeLocal(payload)
}

func (c *Coordinator) writeLocal(payload []byte) error {
	if err := c.local.WriteRaw(payload); err != nil {
		c.log.Error().Err(err).Str("path", c.local.Path()).Msg("write local document")
		return fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}
	return nil
}

func (c *Coordinator) sleep(ctx context.Context, attempt int) error {
	wait := c.backoff(attempt)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
