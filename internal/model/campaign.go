// internal/model/campaign.go
package model

import "time"

// Campaign run states persisted alongside the campaign row.
const (
	CampaignDraft    = "draft"
	CampaignSending  = "sending"
	CampaignFinished = "finished"
)

type Campaign struct {
	ID              int                `db:"id" json:"id"`
	Name            string             `db:"name" json:"name"`
	FromName        string             `db:"from_name" json:"from_name"`
	Subject         string             `db:"subject" json:"subject"`
	BodyTemplate    string             `db:"body_template" json:"body_template"`
	RecipientColumn string             `db:"recipient_column" json:"recipient_column"`
	Mapping         PlaceholderMapping `db:"mapping" json:"mapping"`
	Status          string             `db:"status" json:"status"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time         `db:"updated_at" json:"updated_at,omitempty"`
}
