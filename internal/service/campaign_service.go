// internal/service/campaign_service.go
package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mergekit/mailmerge-backend/internal/engine"
	appErrors "github.com/mergekit/mailmerge-backend/internal/errors"
	"github.com/mergekit/mailmerge-backend/internal/model"
	"github.com/mergekit/mailmerge-backend/internal/queue"
	"github.com/mergekit/mailmerge-backend/internal/repository"
	"github.com/mergekit/mailmerge-backend/internal/template"
	"github.com/mergekit/mailmerge-backend/internal/transport"
)

// CampaignService orchestrates campaigns: persistence, recipient loading,
// personalization preview and the delivery engine lifecycle.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	RecordRepo   repository.RecordRepositoryInterface
	Queue        queue.Queue
	Dialer       transport.Dialer
	// Defaults seeds the tuning knobs of every campaign's engine config.
	Defaults engine.Config

	mu       sync.Mutex
	runtimes map[int]*campaignRuntime
}

// campaignRuntime is the in-memory side of one campaign: its record set,
// engine and the transport settings that never touch the database.
type campaignRuntime struct {
	eng       *engine.Engine
	transport TransportSettings
}

// TransportSettings are the relay fields supplied by the configuration
// collaborator. Credentials stay in memory only.
type TransportSettings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	FromName string `json:"from_name"`
	Workers  int    `json:"workers"`
	// Retries is the total attempt budget per record; nil means use the
	// service default, an explicit 0 means a single attempt.
	Retries *int `json:"retries"`
}

// CampaignDetails is the read model returned to the presentation side.
type CampaignDetails struct {
	ID              int                      `json:"id"`
	Name            string                   `json:"name"`
	FromName        string                   `json:"from_name"`
	Subject         string                   `json:"subject"`
	BodyTemplate    string                   `json:"body_template"`
	RecipientColumn string                   `json:"recipient_column"`
	Mapping         model.PlaceholderMapping `json:"mapping"`
	Placeholders    []string                 `json:"placeholders"`
	Status          string                   `json:"status"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       *time.Time               `json:"updated_at,omitempty"`
	Stats           map[string]int           `json:"stats"`
	Sending         bool                     `json:"sending"`
}

func (s *CampaignService) CreateCampaign(name, fromName, subject, bodyTemplate string) (*model.Campaign, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("campaign name cannot be empty")
	}
	if subject == "" {
		subject = "Your Personalized Message"
	}
	c := &model.Campaign{
		Name:         name,
		FromName:     fromName,
		Subject:      subject,
		BodyTemplate: bodyTemplate,
		Mapping:      model.PlaceholderMapping{},
		Status:       model.CampaignDraft,
	}
	if err := s.CampaignRepo.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination.
func (s *CampaignService) ListCampaigns(page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// UpdateTemplate replaces the editable template fields of a campaign. Any
// change recomposes the engine config, which clears the connectivity pass.
func (s *CampaignService) UpdateTemplate(campaignID int, fromName, subject, bodyTemplate string) error {
	c, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return err
	}

	c.FromName = fromName
	c.Subject = subject
	c.BodyTemplate = bodyTemplate
	if err := s.CampaignRepo.Update(c); err != nil {
		return err
	}

	return s.recompose(campaignID, c)
}

// SetMapping updates the placeholder mapping and recipient column. Rejected
// while the campaign is sending, and when a source column is claimed by
// more than one placeholder.
func (s *CampaignService) SetMapping(campaignID int, recipientColumn string, mapping model.PlaceholderMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}

	rt, c, err := s.runtime(campaignID)
	if err != nil {
		return err
	}
	if rt.eng.Active() {
		return engine.ErrRunActive
	}

	columns := rt.eng.Records().Columns()
	if len(columns) > 0 {
		known := make(map[string]bool, len(columns))
		for _, col := range columns {
			known[col] = true
		}
		if recipientColumn != "" && !known[recipientColumn] {
			return fmt.Errorf("recipient column %q not in data", recipientColumn)
		}
		for name, col := range mapping {
			if !known[col] {
				return fmt.Errorf("placeholder %q maps to unknown column %q", name, col)
			}
		}
	}

	if err := s.CampaignRepo.UpdateMapping(campaignID, recipientColumn, mapping); err != nil {
		return err
	}
	c.RecipientColumn = recipientColumn
	c.Mapping = mapping

	return s.recompose(campaignID, c)
}

// Preview renders the message for a single record, the way the send run
// will render it.
func (s *CampaignService) Preview(campaignID, recordID int) (body, subject string, err error) {
	rt, c, err := s.runtime(campaignID)
	if err != nil {
		return "", "", err
	}

	if strings.TrimSpace(c.BodyTemplate) == "" {
		return "", "", fmt.Errorf("template cannot be empty")
	}

	rec, ok := rt.eng.Records().Get(recordID)
	if !ok {
		return "", "", appErrors.NewRecordNotFound(campaignID, recordID)
	}

	body, subject = template.Render(c.BodyTemplate, c.Subject, rec, c.Mapping, c.RecipientColumn)
	return body, subject, nil
}

// GetCampaignDetails returns the campaign with live stats. When the
// campaign is resident its in-memory snapshot wins; otherwise the
// persisted statuses are aggregated.
func (s *CampaignService) GetCampaignDetails(campaignID int) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	details := &CampaignDetails{
		ID:              c.ID,
		Name:            c.Name,
		FromName:        c.FromName,
		Subject:         c.Subject,
		BodyTemplate:    c.BodyTemplate,
		RecipientColumn: c.RecipientColumn,
		Mapping:         c.Mapping,
		Placeholders:    template.Placeholders(c.Mapping, c.RecipientColumn),
		Status:          c.Status,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}

	s.mu.Lock()
	rt := s.runtimes[campaignID]
	s.mu.Unlock()

	if rt != nil {
		counts := rt.eng.Snapshot()
		details.Stats = statsMap(counts)
		details.Sending = rt.eng.Active()
		return details, nil
	}

	stats, err := s.RecordRepo.Stats(campaignID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	stats["total"] = total
	details.Stats = stats
	return details, nil
}

func statsMap(c model.StatusCounts) map[string]int {
	return map[string]int{
		"total":      c.Total,
		"pending":    c.Pending,
		"queued":     c.Queued,
		"sent":       c.Sent,
		"invalid":    c.Invalid,
		"auth_error": c.AuthError,
		"failed":     c.Failed,
	}
}

// runtime returns the resident engine for a campaign, hydrating records
// from the repository on first touch.
func (s *CampaignService) runtime(campaignID int) (*campaignRuntime, *model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtimes == nil {
		s.runtimes = make(map[int]*campaignRuntime)
	}
	if rt, ok := s.runtimes[campaignID]; ok {
		return rt, c, nil
	}

	records := model.NewRecordSet()
	columns, persisted, err := s.RecordRepo.ListByCampaign(campaignID)
	if err != nil {
		return nil, nil, err
	}
	records.Reset(columns)
	for _, rec := range persisted {
		loaded := records.Append(rec.Fields)
		records.UpdateStatus(loaded.ID, rec.Status)
	}

	eng := engine.New(records, s.transportDialer())
	id := campaignID
	eng.OnStatus(func(recordID int, status model.Status) {
		if err := s.RecordRepo.UpdateStatus(id, recordID, status); err != nil {
			logStatusWriteFailure(id, recordID, err)
		}
	})

	rt := &campaignRuntime{eng: eng}
	if err := eng.SetConfig(s.composeConfig(c, rt.transport)); err != nil {
		return nil, nil, err
	}
	s.runtimes[campaignID] = rt
	return rt, c, nil
}

// transportDialer returns the injected dialer, or the SMTP one.
func (s *CampaignService) transportDialer() transport.Dialer {
	if s.Dialer != nil {
		return s.Dialer
	}
	return &transport.SMTPDialer{ConnectTimeout: s.Defaults.ConnectTimeout}
}

// recompose rebuilds the engine config after any campaign or transport
// mutation. SetConfig clears the verified flag as a side effect. The
// transport settings are copied while s.mu is held, since SetTransport
// writes them under the same lock.
func (s *CampaignService) recompose(campaignID int, c *model.Campaign) error {
	s.mu.Lock()
	rt := s.runtimes[campaignID]
	var t TransportSettings
	if rt != nil {
		t = rt.transport
	}
	s.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.eng.SetConfig(s.composeConfig(c, t))
}

// composeConfig merges the persisted campaign fields with the in-memory
// transport settings and service-level tuning defaults.
func (s *CampaignService) composeConfig(c *model.Campaign, t TransportSettings) engine.Config {
	cfg := engine.Config{
		Host:            t.Host,
		Port:            t.Port,
		Username:        t.Username,
		Password:        t.Password,
		FromName:        c.FromName,
		Subject:         c.Subject,
		BodyTemplate:    c.BodyTemplate,
		RecipientColumn: c.RecipientColumn,
		Mapping:         c.Mapping,
		Workers:         t.Workers,
		Retries:         s.Defaults.Retries,
		BackoffBase:     s.Defaults.BackoffBase,
		ConnectTimeout:  s.Defaults.ConnectTimeout,
	}
	if cfg.Workers == 0 {
		cfg.Workers = s.Defaults.Workers
	}
	if t.Retries != nil {
		cfg.Retries = *t.Retries
	}
	if t.FromName != "" {
		cfg.FromName = t.FromName
	}
	return cfg
}
