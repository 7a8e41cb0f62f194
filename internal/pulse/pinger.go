// Package pulse keeps configured endpoints warm by requesting them on a
// fixed schedule and remembers how the last request to each one went.
package pulse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// MaxTargets bounds the status map.
	MaxTargets     = 32
	defaultTimeout = 10 * time.Second
)

// Status is the outcome of the most recent ping to one target.
type Status struct {
	Target     string    `json:"target"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms"`
}

type Options struct {
	Targets  []string
	Interval time.Duration
	Client   *http.Client
	Logger   zerolog.Logger
}

type Pinger struct {
	client   *http.Client
	targets  []string
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	cron *cron.Cron

	mu       sync.RWMutex
	statuses map[string]Status
}

func New(opts Options) *Pinger {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	targets := opts.Targets
	if len(targets) > MaxTargets {
		targets = targets[:MaxTargets]
	}
	return &Pinger{
		client:   client,
		targets:  append([]string(nil), targets...),
		interval: interval,
		logger:   opts.Logger,
		now:      time.Now,
		statuses: make(map[string]Status, len(targets)),
	}
}

// Start schedules PingAll every interval. Runs never overlap: a tick that
// fires while the previous round is still going is skipped.
func (p *Pinger) Start() error {
	if len(p.targets) == 0 {
		return nil
	}
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := p.cron.AddFunc("@every "+p.interval.String(), func() {
		p.PingAll(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule pulse: %w", err)
	}
	p.cron.Start()
	p.logger.Info().Int("targets", len(p.targets)).Dur("interval", p.interval).Msg("pulse scheduled")
	return nil
}

// Stop halts the schedule and waits for a running round to finish or ctx to end.
func (p *Pinger) Stop(ctx context.Context) {
	if p.cron == nil {
		return
	}
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (p *Pinger) PingAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range p.targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			p.record(p.ping(ctx, target))
		}(target)
	}
	wg.Wait()
}

func (p *Pinger) ping(ctx context.Context, target string) Status {
	started := p.now()
	status := Status{Target: target, At: started}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	req.Header.Set("User-Agent", "tomorrow-pulse/1")

	resp, err := p.client.Do(req)
	status.DurationMS = p.now().Sub(started).Milliseconds()
	if err != nil {
		status.Error = err.Error()
		p.logger.Warn().Err(err).Str("target", target).Msg("pulse failed")
		return status
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	status.StatusCode = resp.StatusCode
	status.OK = resp.StatusCode < http.StatusBadRequest
	if !status.OK {
		status.Error = resp.Status
		p.logger.Warn().Int("status", resp.StatusCode).Str("target", target).Msg("pulse rejected")
	}
	return status
}

func (p *Pinger) record(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, known := p.statuses[status.Target]; !known && len(p.statuses) >= MaxTargets {
		return
	}
	p.statuses[status.Target] = status
}

// Statuses returns the last result per target, ordered by target.
func (p *Pinger) Statuses() []Status {
	p.mu.RLock()
	out := make([]Status, 0, len(p.statuses))
	for _, status := range p.statuses {
		out = append(out, status)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func (p *Pinger) Targets() []string {
	return append([]string(nil), p.targets...)
}
