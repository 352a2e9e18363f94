// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrRecordNotFound is returned when a record id has no row in a campaign.
type ErrRecordNotFound struct {
	CampaignID int
	RecordID   int
}

func (e *ErrRecordNotFound) Error() string {
	return fmt.Sprintf("record %d not found in campaign %d", e.RecordID, e.CampaignID)
}

func NewRecordNotFound(campaignID, recordID int) error {
	return &ErrRecordNotFound{CampaignID: campaignID, RecordID: recordID}
}

// AuthenticationError marks a transport authentication failure. The
// delivery loop treats it as terminal: credentials do not change between
// attempts, so retrying cannot succeed.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return "transport authentication failed"
	}
	return "transport authentication failed: " + e.Err.Error()
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// IsAuthentication reports whether err is, or wraps, an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// TransportError wraps any non-auth failure from the mail relay. The retry
// loop treats these as transient.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
