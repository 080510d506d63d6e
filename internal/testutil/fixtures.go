package testutil

import (
	"time"

	"github.com/crmbridge/accountsync/internal/domain/delivery"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/google/uuid"
)

// NewTestSnapshot returns a snapshot that passes gateway validation.
func NewTestSnapshot(accountID string) *event.AccountSnapshot {
	if accountID == "" {
		accountID = uuid.New().String()
	}
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &event.AccountSnapshot{
		AccountID:     accountID,
		AccountNumber: "ACC-1001",
		Name:          "Contoso Ltd",
		Status:        1,
		Email:         "ops@contoso.example",
		City:          "Oslo",
		Country:       "NO",
		CreatedOn:     &created,
	}
}

// NewTestEvent returns a decodable account event with an inline snapshot.
func NewTestEvent(eventType event.Type) *event.AccountEvent {
	entityID := uuid.New().String()
	return &event.AccountEvent{
		CorrelationID: uuid.New().String(),
		EventType:     eventType,
		Timestamp:     time.Date(2024, 3, 2, 12, 30, 0, 0, time.UTC),
		EntityName:    "account",
		EntityID:      entityID,
		Data:          NewTestSnapshot(entityID),
	}
}

// NewTestDelivery wraps an event in a first-attempt broker delivery.
func NewTestDelivery(ev *event.AccountEvent) delivery.Delivery {
	raw, err := event.Encode(ev)
	if err != nil {
		panic(err)
	}
	return delivery.Delivery{
		MessageID: "1700000000000-0",
		Raw:       raw,
		Count:     1,
	}
}
