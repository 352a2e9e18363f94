// internal/service/recipients.go
package service

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mergekit/mailmerge-backend/internal/engine"
	"github.com/mergekit/mailmerge-backend/internal/model"
	"github.com/mergekit/mailmerge-backend/internal/validate"
)

// ListColumn is the synthetic column used when recipients come from a
// plain address list instead of a data file.
const ListColumn = "email"

// LoadRecipientsCSV replaces a campaign's record set with the rows of a
// CSV file. The header row names the columns; every record gets a dense
// zero-based id and pending status. Loading resets the recipient column
// and mapping, since the old ones may reference vanished columns.
func (s *CampaignService) LoadRecipientsCSV(campaignID int, r io.Reader) (int, error) {
	rt, c, err := s.runtime(campaignID)
	if err != nil {
		return 0, err
	}
	if rt.eng.Active() {
		return 0, engine.ErrRunActive
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("reading CSV header: %w", err)
	}
	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(col)
	}

	records := rt.eng.Records()
	records.Reset(columns)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading CSV row: %w", err)
		}
		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(row) {
				fields[col] = row[i]
			} else {
				fields[col] = ""
			}
		}
		records.Append(fields)
	}

	c.RecipientColumn = ""
	c.Mapping = model.PlaceholderMapping{}
	if err := s.CampaignRepo.UpdateMapping(campaignID, "", c.Mapping); err != nil {
		return 0, err
	}
	if err := s.persistRecords(campaignID, records); err != nil {
		return 0, err
	}
	if err := s.recompose(campaignID, c); err != nil {
		return 0, err
	}
	return records.Len(), nil
}

// LoadRecipientList replaces a campaign's record set from a
// comma-separated address list. Invalid entries are dropped; the synthetic
// email column becomes the recipient column with an identity mapping.
func (s *CampaignService) LoadRecipientList(campaignID int, text string) (int, error) {
	rt, c, err := s.runtime(campaignID)
	if err != nil {
		return 0, err
	}
	if rt.eng.Active() {
		return 0, engine.ErrRunActive
	}

	addresses := validate.AddressList(text)
	if len(addresses) == 0 {
		return 0, fmt.Errorf("no valid email addresses in list")
	}

	records := rt.eng.Records()
	records.Reset([]string{ListColumn})
	for _, addr := range addresses {
		records.Append(map[string]string{ListColumn: addr})
	}

	c.RecipientColumn = ListColumn
	c.Mapping = model.PlaceholderMapping{ListColumn: ListColumn}
	if err := s.CampaignRepo.UpdateMapping(campaignID, c.RecipientColumn, c.Mapping); err != nil {
		return 0, err
	}
	if err := s.persistRecords(campaignID, records); err != nil {
		return 0, err
	}
	if err := s.recompose(campaignID, c); err != nil {
		return 0, err
	}
	return records.Len(), nil
}

func (s *CampaignService) persistRecords(campaignID int, records *model.RecordSet) error {
	return s.RecordRepo.Replace(campaignID, records.Columns(), records.All())
}
