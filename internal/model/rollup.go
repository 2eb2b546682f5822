package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-day format of rollup buckets.
const DateLayout = "2006-01-02"

// Dimension selects which owner a rollup is bucketed by.
type Dimension string

const (
	DimensionPromoter Dimension = "promoter"
	DimensionLink     Dimension = "link"
)

// Dimensions lists every maintained dimension in a fixed order.
var Dimensions = []Dimension{DimensionPromoter, DimensionLink}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	switch Dimension(s) {
	case DimensionPromoter, DimensionLink:
		return Dimension(s), nil
	default:
		return "", fmt.Errorf("unknown dimension %q (want promoter or link)", s)
	}
}

// Key identifies the owner of a rollup: a promoter or a link within a program.
type Key struct {
	Dimension Dimension `json:"dimension"`
	ID        string    `json:"id"`
	ProgramID string    `json:"program_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s/%s", k.Dimension, k.ProgramID, k.ID)
}

// Day returns the UTC calendar day of t in DateLayout.
func Day(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DayBounds returns the half-open UTC interval [start, end) of a DateLayout day.
func DayBounds(date string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse day %q: %w", date, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Totals are the metrics carried by both day-wise and all-time rows.
type Totals struct {
	Signups            int64           `json:"signups"`
	Purchases          int64           `json:"purchases"`
	Revenue            decimal.Decimal `json:"revenue"`
	Commission         decimal.Decimal `json:"commission"`
	SignupCommission   decimal.Decimal `json:"signup_commission"`
	PurchaseCommission decimal.Decimal `json:"purchase_commission"`
}

// Add returns the field-wise sum of t and o.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Signups:            t.Signups + o.Signups,
		Purchases:          t.Purchases + o.Purchases,
		Revenue:            t.Revenue.Add(o.Revenue),
		Commission:         t.Commission.Add(o.Commission),
		SignupCommission:   t.SignupCommission.Add(o.SignupCommission),
		PurchaseCommission: t.PurchaseCommission.Add(o.PurchaseCommission),
	}
}

// Equal compares totals numerically.
func (t Totals) Equal(o Totals) bool {
	return t.Signups == o.Signups &&
		t.Purchases == o.Purchases &&
		t.Revenue.Equal(o.Revenue) &&
		t.Commission.Equal(o.Commission) &&
		t.SignupCommission.Equal(o.SignupCommission) &&
		t.PurchaseCommission.Equal(o.PurchaseCommission)
}

// DayRollup is the per-calendar-day aggregate of one key.
type DayRollup struct {
	Key
	Date      string    `json:"date"`
	Name      string    `json:"name"`
	Reference string    `json:"reference"`
	Totals    Totals    `json:"totals"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rollup is the all-time aggregate of one key: the sum of its day rows.
type Rollup struct {
	Key
	Name      string    `json:"name"`
	Reference string    `json:"reference"`
	Totals    Totals    `json:"totals"`
	Days      int       `json:"days"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bucket addresses one day-wise row.
type Bucket struct {
	Key  Key
	Date string
}
