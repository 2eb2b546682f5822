package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversionType classifies what caused a commission.
type ConversionType string

const (
	ConversionSignup   ConversionType = "SIGNUP"
	ConversionPurchase ConversionType = "PURCHASE"
)

// ConversionFor maps an event trigger to the conversion type of the
// commissions it produces.
func ConversionFor(t Trigger) ConversionType {
	if t == TriggerSignup {
		return ConversionSignup
	}
	return ConversionPurchase
}

// Signup is a referred contact signing up through a promoter.
type Signup struct {
	ID         string    `json:"id" yaml:"id"`
	ProgramID  string    `json:"program_id" yaml:"program_id" validate:"required"`
	PromoterID string    `json:"promoter_id" yaml:"promoter_id" validate:"required"`
	LinkID     string    `json:"link_id,omitempty" yaml:"link_id,omitempty"`
	ContactID  string    `json:"contact_id" yaml:"contact_id" validate:"required"`
	ExternalID string    `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Purchase is a referred contact buying something.
type Purchase struct {
	ID         string          `json:"id" yaml:"id"`
	ProgramID  string          `json:"program_id" yaml:"program_id" validate:"required"`
	PromoterID string          `json:"promoter_id" yaml:"promoter_id" validate:"required"`
	LinkID     string          `json:"link_id,omitempty" yaml:"link_id,omitempty"`
	ContactID  string          `json:"contact_id" yaml:"contact_id" validate:"required"`
	ExternalID string          `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	ItemID     string          `json:"item_id,omitempty" yaml:"item_id,omitempty"`
	Amount     decimal.Decimal `json:"amount" yaml:"amount"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
}

// Commission is produced only by a GENERATE_COMMISSION effect.
// It is immutable once created and removed only by retraction.
type Commission struct {
	ID             string           `json:"id"`
	AutomationID   string           `json:"automation_id"`
	EventID        string           `json:"event_id"`
	ProgramID      string           `json:"program_id"`
	PromoterID     string           `json:"promoter_id"`
	LinkID         string           `json:"link_id,omitempty"`
	ContactID      string           `json:"contact_id"`
	ConversionType ConversionType   `json:"conversion_type"`
	Amount         decimal.Decimal  `json:"amount"`
	Revenue        *decimal.Decimal `json:"revenue,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TriggerEvent is published after a signup or purchase has been committed.
// EventID is the id of the base record that caused it.
type TriggerEvent struct {
	EventID    string           `json:"event_id" validate:"required"`
	Trigger    Trigger          `json:"trigger" validate:"required,oneof=SIGNUP PURCHASE"`
	ContactID  string           `json:"contact_id" validate:"required"`
	PromoterID string           `json:"promoter_id" validate:"required"`
	ProgramID  string           `json:"program_id" validate:"required"`
	LinkID     string           `json:"link_id,omitempty"`
	ExternalID *string          `json:"external_id,omitempty"`
	ItemID     *string          `json:"item_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// SignupEvent builds the trigger event for a committed signup.
func SignupEvent(s Signup) TriggerEvent {
	return TriggerEvent{
		EventID:    s.ID,
		Trigger:    TriggerSignup,
		ContactID:  s.ContactID,
		PromoterID: s.PromoterID,
		ProgramID:  s.ProgramID,
		LinkID:     s.LinkID,
		ExternalID: optional(s.ExternalID),
		OccurredAt: s.CreatedAt,
	}
}

// PurchaseEvent builds the trigger event for a committed purchase.
func PurchaseEvent(p Purchase) TriggerEvent {
	amount := p.Amount
	return TriggerEvent{
		EventID:    p.ID,
		Trigger:    TriggerPurchase,
		ContactID:  p.ContactID,
		PromoterID: p.PromoterID,
		ProgramID:  p.ProgramID,
		LinkID:     p.LinkID,
		ExternalID: optional(p.ExternalID),
		ItemID:     optional(p.ItemID),
		Amount:     &amount,
		OccurredAt: p.CreatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
