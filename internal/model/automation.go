package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Trigger names the base-record creation an automation reacts to.
type Trigger string

const (
	TriggerSignup   Trigger = "SIGNUP"
	TriggerPurchase Trigger = "PURCHASE"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	return t == TriggerSignup || t == TriggerPurchase
}

// AutomationStatus toggles an automation without deleting it.
type AutomationStatus string

const (
	StatusActive   AutomationStatus = "ACTIVE"
	StatusInactive AutomationStatus = "INACTIVE"
)

// Valid reports whether s is a known status.
func (s AutomationStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// EffectType is the discriminant of Effect.
type EffectType string

const (
	EffectGenerateCommission EffectType = "GENERATE_COMMISSION"
	EffectSwitchCircle       EffectType = "SWITCH_CIRCLE"
)

// Parameter is the fact a Condition inspects.
type Parameter string

const (
	ParamSignupCount   Parameter = "signup_count"
	ParamPurchaseCount Parameter = "purchase_count"
	ParamItemID        Parameter = "item_id"
)

// Operator compares a fact against a Condition's value.
type Operator string

const (
	OpLessOrEqual Operator = "<="
	OpLess        Operator = "<"
	OpEqual       Operator = "="
	OpContains    Operator = "contains"
)

// CommissionType selects how a commission amount is derived.
type CommissionType string

const (
	CommissionFixed      CommissionType = "FIXED"
	CommissionPercentage CommissionType = "PERCENTAGE"
)

// CommissionSpec configures a GENERATE_COMMISSION effect.
// For FIXED, Value is the amount. For PERCENTAGE, Value is a percent in (0, 100].
type CommissionSpec struct {
	Type  CommissionType  `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Condition is one predicate of an automation. All conditions of an
// automation must hold for its effect to apply.
type Condition struct {
	ID        string    `json:"id"`
	Parameter Parameter `json:"parameter"`
	Operator  Operator  `json:"operator"`
	Value     string    `json:"value"` // parsed according to Parameter
}

// Effect is the tagged union of automation effects.
// Implementations: GenerateCommission, SwitchCircle.
type Effect interface {
	EffectType() EffectType
	isEffect()
}

// GenerateCommission creates a commission for the triggering contact.
type GenerateCommission struct {
	Spec CommissionSpec `json:"commission"`
}

func (GenerateCommission) EffectType() EffectType { return EffectGenerateCommission }
func (GenerateCommission) isEffect()              {}

// SwitchCircle moves the promoter from the automation's circle to TargetCircleID.
type SwitchCircle struct {
	TargetCircleID string `json:"circle"`
}

func (SwitchCircle) EffectType() EffectType { return EffectSwitchCircle }
func (SwitchCircle) isEffect()              {}

// Automation ("function") is a configured rule: trigger, conditions and one effect.
type Automation struct {
	ID         string           `json:"id"`
	ProgramID  string           `json:"program_id"`
	CircleID   string           `json:"circle_id"`
	Name       string           `json:"name"`
	Trigger    Trigger          `json:"trigger"`
	Status     AutomationStatus `json:"status"`
	Effect     Effect           `json:"-"`
	Conditions []Condition      `json:"conditions"`
}

// EffectPayload is the stored shape of an Effect. Exactly one field is set,
// matching the discriminant kept next to it.
type EffectPayload struct {
	Commission     *CommissionSpec `json:"commission,omitempty"`
	TargetCircleID string          `json:"circle,omitempty"`
}

// EncodeEffect splits an Effect into its discriminant and stored payload.
func EncodeEffect(e Effect) (EffectType, EffectPayload, error) {
	switch eff := e.(type) {
	case GenerateCommission:
		spec := eff.Spec
		return EffectGenerateCommission, EffectPayload{Commission: &spec}, nil
	case SwitchCircle:
		return EffectSwitchCircle, EffectPayload{TargetCircleID: eff.TargetCircleID}, nil
	case nil:
		return "", EffectPayload{}, fmt.Errorf("effect is required")
	default:
		return "", EffectPayload{}, fmt.Errorf("unsupported effect %T", e)
	}
}

// DecodeEffect rebuilds an Effect from its discriminant and payload.
// This is the only place the discriminant is inspected.
func DecodeEffect(t EffectType, p EffectPayload) (Effect, error) {
	switch t {
	case EffectGenerateCommission:
		if p.Commission == nil {
			return nil, fmt.Errorf("effect %s: commission spec missing", t)
		}
		return GenerateCommission{Spec: *p.Commission}, nil
	case EffectSwitchCircle:
		if p.TargetCircleID == "" {
			return nil, fmt.Errorf("effect %s: target circle missing", t)
		}
		return SwitchCircle{TargetCircleID: p.TargetCircleID}, nil
	default:
		return nil, fmt.Errorf("unknown effect type %q", t)
	}
}
