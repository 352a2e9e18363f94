// internal/engine/worker.go
package engine

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/mergekit/mailmerge-backend/internal/model"
)

// worker drains the job channel, writing exactly one terminal status per
// item. A failure on one item never aborts the pool or other items.
func (e *Engine) worker(ctx context.Context, cfg Config, jobs <-chan model.Record, wg *sync.WaitGroup) {
	defer wg.Done()

	for rec := range jobs {
		if ctx.Err() != nil {
			// Cooperative cancellation between items. The popped item still
			// gets a terminal status so nothing is left queued.
			e.setStatus(rec.ID, model.StatusFailed)
			continue
		}
		e.processItem(ctx, cfg, rec)
	}
}

func (e *Engine) processItem(ctx context.Context, cfg Config, rec model.Record) {
	status := model.StatusFailed
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing record", "record_id", rec.ID, "panic", r)
			status = model.StatusFailed
		}
		e.setStatus(rec.ID, status)
	}()

	status = Process(ctx, e.dialer, cfg, rec)
	if status != model.StatusSent {
		log.Warn("record not delivered", "record_id", rec.ID, "status", status)
	}
}
