package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/mergekit/mailmerge-backend/internal/model"
)

// RecordRepositoryInterface persists recipient records and their statuses.
type RecordRepositoryInterface interface {
	Replace(campaignID int, columns []string, records []model.Record) error
	ListByCampaign(campaignID int) ([]string, []model.Record, error)
	UpdateStatus(campaignID, recordID int, status model.Status) error
	GetByID(campaignID, recordID int) (*model.Record, error)
	Stats(campaignID int) (map[string]int, error)
}

type RecordRepository struct {
	DB *sql.DB
}

// Replace swaps the whole record set of a campaign in one transaction,
// mirroring a fresh data upload.
func (r *RecordRepository) Replace(campaignID int, columns []string, records []model.Record) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records WHERE campaign_id=$1`, campaignID); err != nil {
		return err
	}

	cols, err := json.Marshal(columns)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE campaigns SET columns=$1, updated_at=NOW() WHERE id=$2`, cols, campaignID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
        INSERT INTO records (campaign_id, record_id, fields, status, created_at)
        VALUES ($1, $2, $3, $4, NOW())
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(campaignID, rec.ID, fields, string(rec.Status)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *RecordRepository) ListByCampaign(campaignID int) ([]string, []model.Record, error) {
	var rawCols []byte
	err := r.DB.QueryRow(`SELECT columns FROM campaigns WHERE id=$1`, campaignID).Scan(&rawCols)
	if err != nil {
		return nil, nil, err
	}
	var columns []string
	if len(rawCols) > 0 {
		if err := json.Unmarshal(rawCols, &columns); err != nil {
			return nil, nil, err
		}
	}

	rows, err := r.DB.Query(`
        SELECT record_id, fields, status
        FROM records WHERE campaign_id=$1 ORDER BY record_id
    `, campaignID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		var rec model.Record
		var fields []byte
		var status string
		if err := rows.Scan(&rec.ID, &fields, &status); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, nil, err
		}
		rec.Status = model.Status(status)
		records = append(records, rec)
	}
	return columns, records, rows.Err()
}

func (r *RecordRepository) UpdateStatus(campaignID, recordID int, status model.Status) error {
	query := `UPDATE records SET status=$1, updated_at=NOW() WHERE campaign_id=$2 AND record_id=$3`
	_, err := r.DB.Exec(query, string(status), campaignID, recordID)
	return err
}

func (r *RecordRepository) GetByID(campaignID, recordID int) (*model.Record, error) {
	query := `SELECT record_id, fields, status FROM records WHERE campaign_id=$1 AND record_id=$2`
	var rec model.Record
	var fields []byte
	var status string
	err := r.DB.QueryRow(query, campaignID, recordID).Scan(&rec.ID, &fields, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	return &rec, nil
}

func (r *RecordRepository) Stats(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM records WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		"pending": 0, "queued": 0, "sent": 0,
		"invalid": 0, "auth_error": 0, "failed": 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ RecordRepositoryInterface = (*RecordRepository)(nil)
