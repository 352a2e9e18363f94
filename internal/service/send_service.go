// internal/service/send_service.go
package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/mergekit/mailmerge-backend/internal/engine"
	"github.com/mergekit/mailmerge-backend/internal/model"
	"github.com/mergekit/mailmerge-backend/internal/queue"
)

// SetTransport installs the relay settings for a campaign. The settings
// live in memory only; any change invalidates the connectivity pass.
func (s *CampaignService) SetTransport(campaignID int, t TransportSettings) error {
	rt, c, err := s.runtime(campaignID)
	if err != nil {
		return err
	}
	if rt.eng.Active() {
		return engine.ErrRunActive
	}

	s.mu.Lock()
	rt.transport = t
	s.mu.Unlock()

	return rt.eng.SetConfig(s.composeConfig(c, t))
}

// TestTransport runs the connectivity pre-check for a campaign's relay.
func (s *CampaignService) TestTransport(ctx context.Context, campaignID int) error {
	rt, _, err := s.runtime(campaignID)
	if err != nil {
		return err
	}
	return rt.eng.TestConnection(ctx)
}

// StartSend launches the in-process worker pool over every unsent record.
// The engine enforces the preconditions; on acceptance the campaign row is
// flipped to sending and back when the run drains.
func (s *CampaignService) StartSend(ctx context.Context, campaignID int) (string, error) {
	rt, _, err := s.runtime(campaignID)
	if err != nil {
		return "", err
	}

	runID, err := rt.eng.Start(ctx)
	if err != nil {
		return "", err
	}

	if err := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignSending); err != nil {
		log.Warn("failed to mark campaign sending", "campaign_id", campaignID, "error", err)
	}

	go func() {
		rt.eng.Wait()
		if err := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignFinished); err != nil {
			log.Warn("failed to mark campaign finished", "campaign_id", campaignID, "error", err)
		}
	}()

	return runID, nil
}

// Status returns the snapshot counts plus whether a run is active, the
// non-blocking query the presentation side polls.
func (s *CampaignService) Status(campaignID int) (model.StatusCounts, bool, error) {
	rt, _, err := s.runtime(campaignID)
	if err != nil {
		return model.StatusCounts{}, false, err
	}
	return rt.eng.Snapshot(), rt.eng.Active(), nil
}

// DispatchToQueue publishes one delivery job per unsent record for the
// standalone worker to consume. The same preconditions as a local run
// apply, minus the worker pool.
func (s *CampaignService) DispatchToQueue(campaignID int) (int, error) {
	if s.Queue == nil {
		return 0, fmt.Errorf("no queue configured")
	}

	rt, c, err := s.runtime(campaignID)
	if err != nil {
		return 0, err
	}
	if rt.eng.Active() {
		return 0, engine.ErrRunActive
	}
	if c.BodyTemplate == "" {
		return 0, engine.ErrNoTemplate
	}
	if c.RecipientColumn == "" {
		return 0, engine.ErrNoRecipientColumn
	}
	if !rt.eng.Verified() {
		return 0, engine.ErrNotVerified
	}

	pending := rt.eng.Records().Pending()
	if len(pending) == 0 {
		return 0, engine.ErrNothingToSend
	}

	s.mu.Lock()
	t := rt.transport
	s.mu.Unlock()
	relay := queue.RelayConfig{
		Host:     t.Host,
		Port:     t.Port,
		Username: t.Username,
		Password: t.Password,
		FromName: t.FromName,
		Retries:  t.Retries,
	}

	queued := 0
	for _, rec := range pending {
		// Queued is persisted before publishing: a consumer may finish the
		// job at any point after Publish returns, and the persisted status
		// must never regress from a terminal state back to queued.
		rt.eng.Records().UpdateStatus(rec.ID, model.StatusQueued)
		if err := s.RecordRepo.UpdateStatus(campaignID, rec.ID, model.StatusQueued); err != nil {
			logStatusWriteFailure(campaignID, rec.ID, err)
		}

		job := queue.DeliveryJob{CampaignID: campaignID, RecordID: rec.ID, Relay: relay}
		if err := s.Queue.Publish(queue.TopicCampaignSends, job); err != nil {
			log.Warn("failed to enqueue record", "campaign_id", campaignID, "record_id", rec.ID, "error", err)
			rt.eng.Records().UpdateStatus(rec.ID, model.StatusPending)
			if err := s.RecordRepo.UpdateStatus(campaignID, rec.ID, model.StatusPending); err != nil {
				logStatusWriteFailure(campaignID, rec.ID, err)
			}
			continue
		}
		queued++
	}

	if queued > 0 {
		if err := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignSending); err != nil {
			log.Warn("failed to mark campaign sending", "campaign_id", campaignID, "error", err)
		}
	}
	return queued, nil
}

// ProcessJob delivers one queued record, used by the queue worker. The
// relay settings come from the job payload, not local state, so a consumer
// in another process delivers with the exact config the dispatcher tested.
// The outcome status is persisted; a returned error means the job itself
// could not be processed and may be redelivered.
func (s *CampaignService) ProcessJob(ctx context.Context, job queue.DeliveryJob) error {
	rt, c, err := s.runtime(job.CampaignID)
	if err != nil {
		return err
	}

	rec, ok := rt.eng.Records().Get(job.RecordID)
	if !ok {
		log.Warn("job for unknown record dropped", "campaign_id", job.CampaignID, "record_id", job.RecordID)
		return nil
	}
	if rec.Status == model.StatusSent {
		return nil
	}

	settings := TransportSettings{
		Host:     job.Relay.Host,
		Port:     job.Relay.Port,
		Username: job.Relay.Username,
		Password: job.Relay.Password,
		FromName: job.Relay.FromName,
		Retries:  job.Relay.Retries,
	}
	cfg := s.composeConfig(c, settings)

	status := engine.Process(ctx, s.transportDialer(), cfg, rec)
	rt.eng.Records().UpdateStatus(job.RecordID, status)
	if err := s.RecordRepo.UpdateStatus(job.CampaignID, job.RecordID, status); err != nil {
		logStatusWriteFailure(job.CampaignID, job.RecordID, err)
	}
	return nil
}

// StartQueueSubscriber wires ProcessJob into the queue, for single-process
// deployments using the in-memory queue.
func (s *CampaignService) StartQueueSubscriber(ctx context.Context) error {
	if s.Queue == nil {
		return fmt.Errorf("no queue configured")
	}
	return s.Queue.Subscribe(queue.TopicCampaignSends, func(payload any) error {
		job, ok := payload.(queue.DeliveryJob)
		if !ok {
			log.Warn("invalid queue payload", "payload", payload)
			return nil
		}
		return s.ProcessJob(ctx, job)
	})
}

func logStatusWriteFailure(campaignID, recordID int, err error) {
	log.Warn("failed to persist record status", "campaign_id", campaignID, "record_id", recordID, "error", err)
}
