package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/model"
)

func TestFormatTime_FixedWidthUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2024, 3, 10, 14, 0, 0, 0, loc)

	s := formatTime(ts)
	assert.Equal(t, "2024-03-10T12:00:00.000000Z", s)

	back, err := parseTime(s)
	require.NoError(t, err)
	assert.True(t, back.Equal(ts))
	assert.Equal(t, time.UTC, back.Location())
}

func TestFormatTime_LexicalOrder(t *testing.T) {
	a := formatTime(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	b := formatTime(time.Date(2024, 3, 10, 10, 0, 0, 500, time.UTC))
	c := formatTime(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestDayWindow(t *testing.T) {
	start, end, err := dayWindow("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29T00:00:00.000000Z", start)
	assert.Equal(t, "2024-03-01T00:00:00.000000Z", end)
}

func TestMarshalEffect_RoundTrip(t *testing.T) {
	effect := model.GenerateCommission{Spec: model.CommissionSpec{
		Type:  model.CommissionFixed,
		Value: decimal.RequireFromString("7.50"),
	}}

	typ, data, err := marshalEffect(effect)
	require.NoError(t, err)
	assert.Equal(t, model.EffectGenerateCommission, typ)
	assert.JSONEq(t, `{"commission":{"type":"FIXED","value":"7.5"}}`, data)

	back, err := unmarshalEffect(string(typ), data)
	require.NoError(t, err)
	gc, ok := back.(model.GenerateCommission)
	require.True(t, ok)
	assert.True(t, gc.Spec.Value.Equal(effect.Spec.Value))
}

func TestUnmarshalEffect_Invalid(t *testing.T) {
	_, err := unmarshalEffect("SWITCH_CIRCLE", `{`)
	assert.Error(t, err)

	_, err = unmarshalEffect("SWITCH_CIRCLE", `{}`)
	assert.Error(t, err)
}
