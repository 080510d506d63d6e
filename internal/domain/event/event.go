package event

import (
	"time"
)

// Type identifies the kind of change a notification describes.
type Type string

const (
	TypeCreate Type = "Create"
	TypeUpdate Type = "Update"
	TypeDelete Type = "Delete"
)

// Known reports whether t is one of the accepted event types.
func (t Type) Known() bool {
	switch t {
	case TypeCreate, TypeUpdate, TypeDelete:
		return true
	}
	return false
}

// AccountEvent is one account change notification read off the broker.
type AccountEvent struct {
	CorrelationID string           `json:"correlationId"`
	EventType     Type             `json:"eventType"`
	Timestamp     time.Time        `json:"timestamp"`
	EntityName    string           `json:"entityName"`
	EntityID      string           `json:"entityId"`
	Data          *AccountSnapshot `json:"data"`
}

// AccountSnapshot carries the account fields known at the time of the change.
// A nil snapshot on an event is valid; the pipeline fetches current state from
// the source system instead.
type AccountSnapshot struct {
	AccountID     string     `json:"accountId" validate:"required,uuid"`
	AccountNumber string     `json:"accountNumber,omitempty"`
	Name          string     `json:"name" validate:"required"`
	Status        int        `json:"status"`
	Email         string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone         string     `json:"phone,omitempty"`
	AddressLine1  string     `json:"addressLine1,omitempty"`
	City          string     `json:"city,omitempty"`
	StateProvince string     `json:"stateProvince,omitempty"`
	PostalCode    string     `json:"postalCode,omitempty"`
	Country       string     `json:"country,omitempty"`
	CreatedOn     *time.Time `json:"createdOn,omitempty"`
	ModifiedOn    *time.Time `json:"modifiedOn,omitempty"`
}
