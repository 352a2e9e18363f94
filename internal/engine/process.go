// internal/engine/process.go
package engine

import (
	"context"
	"strings"

	"github.com/sethvargo/go-retry"

	appErrors "github.com/mergekit/mailmerge-backend/internal/errors"
	"github.com/mergekit/mailmerge-backend/internal/model"
	"github.com/mergekit/mailmerge-backend/internal/template"
	"github.com/mergekit/mailmerge-backend/internal/transport"
	"github.com/mergekit/mailmerge-backend/internal/validate"
)

// Process takes one record to its terminal status: validate the recipient,
// render the message, then attempt delivery under the retry budget.
//
// cfg.Retries is the total attempt budget. Transient transport errors back
// off exponentially between attempts; an authentication failure ends the
// item immediately. Shared by the in-process pool and the queue worker so
// both dispatch paths behave identically.
func Process(ctx context.Context, dialer transport.Dialer, cfg Config, rec model.Record) model.Status {
	addr := strings.TrimSpace(rec.Field(cfg.RecipientColumn))
	if !validate.Address(addr) {
		return model.StatusInvalid
	}

	body, subject := template.Render(cfg.BodyTemplate, cfg.Subject, rec, cfg.Mapping, cfg.RecipientColumn)
	msg := transport.BuildMessage(cfg.FromName, cfg.Username, addr, subject, body)

	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := deliver(ctx, dialer, cfg, addr, msg); err != nil {
			if appErrors.IsAuthentication(err) {
				return err // not retryable, credentials will not change
			}
			return retry.RetryableError(err)
		}
		return nil
	})

	switch {
	case err == nil:
		return model.StatusSent
	case appErrors.IsAuthentication(err):
		return model.StatusAuthError
	default:
		return model.StatusFailed
	}
}

// deliver runs one full transport cycle: connect, authenticate, submit,
// disconnect.
func deliver(ctx context.Context, dialer transport.Dialer, cfg Config, to string, msg []byte) error {
	sess, err := dialer.Dial(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Authenticate(cfg.Username, cfg.Password); err != nil {
		return err
	}
	return sess.Submit(cfg.Username, to, msg)
}
