package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/mergekit/mailmerge-backend/internal/errors"
	"github.com/mergekit/mailmerge-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	Update(c *model.Campaign) error
	UpdateStatus(campaignID int, status string) error
	UpdateMapping(campaignID int, recipientColumn string, mapping model.PlaceholderMapping) error
	ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	mapping, err := marshalMapping(c.Mapping)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO campaigns (name, from_name, subject, body_template, recipient_column, mapping, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.Name, c.FromName, c.Subject, c.BodyTemplate, c.RecipientColumn, mapping, c.Status, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) Update(c *model.Campaign) error {
	mapping, err := marshalMapping(c.Mapping)
	if err != nil {
		return err
	}
	query := `
        UPDATE campaigns
        SET name=$1, from_name=$2, subject=$3, body_template=$4, recipient_column=$5, mapping=$6, status=$7, updated_at=NOW()
        WHERE id=$8
    `
	_, err = r.DB.Exec(query, c.Name, c.FromName, c.Subject, c.BodyTemplate, c.RecipientColumn, mapping, c.Status, c.ID)
	return err
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) UpdateMapping(campaignID int, recipientColumn string, mapping model.PlaceholderMapping) error {
	raw, err := marshalMapping(mapping)
	if err != nil {
		return err
	}
	query := `UPDATE campaigns SET recipient_column=$1, mapping=$2, updated_at=NOW() WHERE id=$3`
	_, err = r.DB.Exec(query, recipientColumn, raw, campaignID)
	return err
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `
        SELECT id, name, from_name, subject, body_template, recipient_column, mapping, status, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	var mapping []byte
	err := r.DB.QueryRow(query, id).Scan(&c.ID, &c.Name, &c.FromName, &c.Subject, &c.BodyTemplate, &c.RecipientColumn, &mapping, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	if c.Mapping, err = unmarshalMapping(mapping); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT id, name, from_name, subject, body_template, recipient_column, mapping, status, created_at, updated_at FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		var mapping []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.FromName, &c.Subject, &c.BodyTemplate, &c.RecipientColumn, &mapping, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if c.Mapping, err = unmarshalMapping(mapping); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func marshalMapping(m model.PlaceholderMapping) ([]byte, error) {
	if m == nil {
		m = model.PlaceholderMapping{}
	}
	return json.Marshal(m)
}

func unmarshalMapping(raw []byte) (model.PlaceholderMapping, error) {
	if len(raw) == 0 {
		return model.PlaceholderMapping{}, nil
	}
	var m model.PlaceholderMapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
