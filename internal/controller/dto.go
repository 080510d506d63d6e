package controller

import (
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/domain/event"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (validation tags, partial updates).
// Controllers convert them to CRM snapshots before calling the client.

// AccountRequest holds the input for creating or updating an account.
type AccountRequest struct {
	AccountNumber string `json:"accountNumber,omitempty"`
	Name          string `json:"name" validate:"required"`
	Status        int    `json:"status" validate:"gte=0"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	Phone         string `json:"phone,omitempty"`
	AddressLine1  string `json:"addressLine1,omitempty"`
	City          string `json:"city,omitempty"`
	StateProvince string `json:"stateProvince,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty" validate:"omitempty,len=2"`
}

// --- Response DTOs ---

// AccountResponse represents a CRM account in API responses.
type AccountResponse struct {
	AccountID     string     `json:"accountId"`
	AccountNumber string     `json:"accountNumber,omitempty"`
	Name          string     `json:"name"`
	Status        int        `json:"status"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	AddressLine1  string     `json:"addressLine1,omitempty"`
	City          string     `json:"city,omitempty"`
	StateProvince string     `json:"stateProvince,omitempty"`
	PostalCode    string     `json:"postalCode,omitempty"`
	Country       string     `json:"country,omitempty"`
	CreatedOn     *time.Time `json:"createdOn,omitempty"`
	ModifiedOn    *time.Time `json:"modifiedOn,omitempty"`
}

// DeadLetterResponse represents a parked message in API responses.
type DeadLetterResponse struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"messageId"`
	CorrelationID string    `json:"correlationId"`
	EntityID      string    `json:"entityId,omitempty"`
	EventType     string    `json:"eventType,omitempty"`
	LastError     string    `json:"lastError"`
	DeliveryCount int       `json:"deliveryCount"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func (req *AccountRequest) toSnapshot(accountID string) *event.AccountSnapshot {
	return &event.AccountSnapshot{
		AccountID:     accountID,
		AccountNumber: req.AccountNumber,
		Name:          req.Name,
		Status:        req.Status,
		Email:         req.Email,
		Phone:         req.Phone,
		AddressLine1:  req.AddressLine1,
		City:          req.City,
		StateProvince: req.StateProvince,
		PostalCode:    req.PostalCode,
		Country:       req.Country,
	}
}

// FromSnapshot converts a CRM snapshot to an API response.
func FromSnapshot(s *event.AccountSnapshot) *AccountResponse {
	return &AccountResponse{
		AccountID:     s.AccountID,
		AccountNumber: s.AccountNumber,
		Name:          s.Name,
		Status:        s.Status,
		Email:         s.Email,
		Phone:         s.Phone,
		AddressLine1:  s.AddressLine1,
		City:          s.City,
		StateProvince: s.StateProvince,
		PostalCode:    s.PostalCode,
		Country:       s.Country,
		CreatedOn:     s.CreatedOn,
		ModifiedOn:    s.ModifiedOn,
	}
}

// FromDeadLetter converts a dead-letter record to an API response.
func FromDeadLetter(rec *appsync.DeadLetterRecord) *DeadLetterResponse {
	return &DeadLetterResponse{
		ID:            rec.ID.String(),
		MessageID:     rec.MessageID,
		CorrelationID: rec.CorrelationID,
		EntityID:      rec.EntityID,
		EventType:     rec.EventType,
		LastError:     rec.LastError,
		DeliveryCount: rec.DeliveryCount,
		FirstSeenAt:   rec.FirstSeenAt,
		LastSeenAt:    rec.LastSeenAt,
	}
}
