package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/model"
)

// timeLayout is fixed width so that lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// formatTime converts t to its stored text form in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// dayWindow returns the stored-text bounds [start, end) of a calendar day.
func dayWindow(date string) (string, string, error) {
	start, end, err := model.DayBounds(date)
	if err != nil {
		return "", "", err
	}
	return formatTime(start), formatTime(end), nil
}

// parseDecimal parses stored money text.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullDecimal maps a nil amount to NULL.
func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// marshalEffect splits an effect into its discriminant and JSON payload TEXT.
func marshalEffect(e model.Effect) (model.EffectType, string, error) {
	typ, payload, err := model.EncodeEffect(e)
	if err != nil {
		return "", "", fmt.Errorf("marshal effect: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal effect: %w", err)
	}
	return typ, string(data), nil
}

// unmarshalEffect rebuilds an effect from its stored discriminant and payload.
func unmarshalEffect(typ string, data string) (model.Effect, error) {
	var payload model.EffectPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal effect: %w", err)
	}
	e, err := model.DecodeEffect(model.EffectType(typ), payload)
	if err != nil {
		return nil, fmt.Errorf("unmarshal effect: %w", err)
	}
	return e, nil
}
