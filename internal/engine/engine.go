// internal/engine/engine.go

// Package engine implements the delivery core: the personalization step,
// the concurrent dispatch-with-retry worker pool and the per-record status
// tracking for one campaign.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mergekit/mailmerge-backend/internal/model"
	"github.com/mergekit/mailmerge-backend/internal/transport"
)

var (
	// ErrRunActive rejects a start or reconfiguration while a run is live.
	ErrRunActive = errors.New("a send run is already active")
	// ErrNoRecords rejects a start with an empty record set.
	ErrNoRecords = errors.New("no records loaded")
	// ErrNoTemplate rejects a start with an empty body template.
	ErrNoTemplate = errors.New("body template is empty")
	// ErrNoRecipientColumn rejects a start without a recipient column.
	ErrNoRecipientColumn = errors.New("no recipient column selected")
	// ErrNotVerified rejects a start before a passing connectivity test.
	ErrNotVerified = errors.New("transport connection has not been verified")
	// ErrNothingToSend means every record already reached sent.
	ErrNothingToSend = errors.New("no unsent records to enqueue")
	// ErrIncompleteTransport rejects a connectivity test with blank fields.
	ErrIncompleteTransport = errors.New("transport configuration is incomplete")
)

// Engine owns the run lifecycle for one campaign: idle -> running -> idle.
// The record set handle is shared with whoever loaded the data; all status
// mutation goes through it.
type Engine struct {
	records  *model.RecordSet
	dialer   transport.Dialer
	onStatus func(id int, status model.Status)

	mu       sync.Mutex
	cfg      Config
	cfgGen   uint64
	verified bool
	running  bool
	runID    string
	done     chan struct{}
}

// New builds an engine around a record set and a relay dialer.
func New(records *model.RecordSet, dialer transport.Dialer) *Engine {
	return &Engine{records: records, dialer: dialer}
}

// OnStatus registers a hook invoked after every status write, used for
// persistence write-back. Must be set before Start.
func (e *Engine) OnStatus(fn func(id int, status model.Status)) {
	e.onStatus = fn
}

// Records exposes the underlying record set handle.
func (e *Engine) Records() *model.RecordSet {
	return e.records
}

// SetConfig replaces the engine configuration. Rejected while a run is
// active. Any change invalidates the connectivity pre-check so a stale
// pass cannot authorize sending with untested credentials.
func (e *Engine) SetConfig(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrRunActive
	}
	e.cfg = cfg.withDefaults()
	e.cfgGen++
	e.verified = false
	return nil
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

// Verified reports whether the last connectivity test passed and no config
// change happened since.
func (e *Engine) Verified() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verified
}

// Active reports whether a run is currently draining the queue.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Snapshot returns current per-status counts without blocking workers.
func (e *Engine) Snapshot() model.StatusCounts {
	return e.records.Snapshot()
}

// TestConnection runs the connectivity pre-check against the configured
// relay. On success the verified flag is set; on any failure it is cleared
// and the classified error is returned. A pass only counts for the config
// it was run against: when SetConfig lands while the check is in flight,
// the result is discarded so untested credentials are never authorized.
func (e *Engine) TestConnection(ctx context.Context) error {
	e.mu.Lock()
	cfg := e.cfg.clone()
	gen := e.cfgGen
	e.verified = false
	e.mu.Unlock()

	if cfg.Host == "" || cfg.Port == 0 || cfg.Username == "" || cfg.Password == "" {
		return ErrIncompleteTransport
	}

	if err := transport.Check(ctx, e.dialer, cfg.Host, cfg.Port, cfg.Username, cfg.Password); err != nil {
		return err
	}

	e.mu.Lock()
	if e.cfgGen == gen {
		e.verified = true
	}
	e.mu.Unlock()
	return nil
}

// Start begins a run: every record not already sent is marked queued,
// snapshotted into the work queue and drained by the worker pool. The
// configuration is captured by value at this point. Returns the run id.
//
// Preconditions, all required: loaded records, a body template, a selected
// recipient column and a passing connectivity test. A start that fails a
// precondition changes no state.
func (e *Engine) Start(ctx context.Context) (string, error) {
	e.mu.Lock()

	if e.running {
		e.mu.Unlock()
		return "", ErrRunActive
	}

	cfg := e.cfg.clone()
	switch {
	case e.records.Len() == 0:
		e.mu.Unlock()
		return "", ErrNoRecords
	case cfg.BodyTemplate == "":
		e.mu.Unlock()
		return "", ErrNoTemplate
	case cfg.RecipientColumn == "":
		e.mu.Unlock()
		return "", ErrNoRecipientColumn
	case !e.verified:
		e.mu.Unlock()
		return "", ErrNotVerified
	}

	pending := e.records.Pending()
	if len(pending) == 0 {
		e.mu.Unlock()
		return "", ErrNothingToSend
	}

	jobs := make(chan model.Record, len(pending))
	for _, rec := range pending {
		e.setStatus(rec.ID, model.StatusQueued)
		rec.Status = model.StatusQueued
		jobs <- rec
	}
	close(jobs)

	e.running = true
	e.runID = uuid.NewString()
	e.done = make(chan struct{})
	runID := e.runID
	done := e.done
	e.mu.Unlock()

	log.Info("starting send run", "run_id", runID, "records", len(pending), "workers", cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go e.worker(ctx, cfg, jobs, &wg)
	}

	go func() {
		wg.Wait()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(done)
		log.Info("send run finished", "run_id", runID)
	}()

	return runID, nil
}

// Wait blocks until the current run, if any, has drained.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) setStatus(id int, status model.Status) {
	e.records.UpdateStatus(id, status)
	if e.onStatus != nil {
		e.onStatus(id, status)
	}
}
