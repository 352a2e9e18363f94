// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mergekit/mailmerge-backend/internal/engine"
	appErrors "github.com/mergekit/mailmerge-backend/internal/errors"
	"github.com/mergekit/mailmerge-backend/internal/model"
	"github.com/mergekit/mailmerge-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string `json:"name"`
		FromName     string `json:"from_name"`
		Subject      string `json:"subject"`
		BodyTemplate string `json:"body_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(body.Name, body.FromName, body.Subject, body.BodyTemplate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := c.CampaignService.GetCampaignDetails(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, details)
}

func (c *CampaignController) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		FromName     string `json:"from_name"`
		Subject      string `json:"subject"`
		BodyTemplate string `json:"body_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.CampaignService.UpdateTemplate(id, body.FromName, body.Subject, body.BodyTemplate); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]string{"status": "updated"})
}

// LoadRecipients accepts either a raw CSV body (text/csv) or a JSON body
// with a comma-separated address list.
func (c *CampaignController) LoadRecipients(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var count int
	if r.Header.Get("Content-Type") == "text/csv" {
		count, err = c.CampaignService.LoadRecipientsCSV(id, r.Body)
	} else {
		var body struct {
			Emails string `json:"emails"`
		}
		if derr := json.NewDecoder(r.Body).Decode(&body); derr != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		count, err = c.CampaignService.LoadRecipientList(id, body.Emails)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]int{"records_loaded": count})
}

func (c *CampaignController) SetMapping(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		RecipientColumn string                   `json:"recipient_column"`
		Mapping         model.PlaceholderMapping `json:"mapping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.CampaignService.SetMapping(id, body.RecipientColumn, body.Mapping); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]string{"status": "updated"})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		RecordID int `json:"record_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, subject, err := c.CampaignService.Preview(id, body.RecordID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"record_id":        body.RecordID,
		"rendered_message": rendered,
		"rendered_subject": subject,
	})
}

func (c *CampaignController) SetTransport(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body service.TransportSettings
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.CampaignService.SetTransport(id, body); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]string{"status": "updated", "note": "connection must be re-tested"})
}

func (c *CampaignController) TestTransport(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if err := c.CampaignService.TestTransport(r.Context(), id); err != nil {
		// 502 is reserved for the relay actually failing; anything else
		// (unknown campaign, blank transport fields) is the caller's error.
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) || errors.Is(err, engine.ErrIncompleteTransport) || errors.Is(err, engine.ErrRunActive) {
			writeError(w, err)
			return
		}

		reason := "connection_error"
		if appErrors.IsAuthentication(err) {
			reason = "authentication_error"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"result": "failed",
			"reason": reason,
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, map[string]string{"result": "passed"})
}

func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		Mode string `json:"mode"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body) // empty body means local mode
	}

	if body.Mode == "queue" {
		queued, err := c.CampaignService.DispatchToQueue(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{
			"campaign_id":     id,
			"messages_queued": queued,
			"mode":            "queue",
		})
		return
	}

	runID, err := c.CampaignService.StartSend(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"campaign_id": id,
		"run_id":      runID,
		"mode":        "local",
	})
}

func (c *CampaignController) Status(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	counts, sending, err := c.CampaignService.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"campaign_id": id,
		"sending":     sending,
		"completed":   counts.Completed(),
		"counts":      counts,
	})
}

func campaignID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses: precondition and
// input problems are the caller's fault, everything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	var campaignNotFound *appErrors.ErrCampaignNotFound
	var recordNotFound *appErrors.ErrRecordNotFound
	switch {
	case errors.As(err, &campaignNotFound), errors.As(err, &recordNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrRunActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrNoRecords),
		errors.Is(err, engine.ErrNoTemplate),
		errors.Is(err, engine.ErrNoRecipientColumn),
		errors.Is(err, engine.ErrNotVerified),
		errors.Is(err, engine.ErrNothingToSend),
		errors.Is(err, engine.ErrIncompleteTransport):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
