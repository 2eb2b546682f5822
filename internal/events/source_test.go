package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/aggregate"
	"github.com/roach88/referral/internal/engine"
	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func promoterKey() model.Key {
	return model.Key{Dimension: model.DimensionPromoter, ID: "alice", ProgramID: "acme"}
}

func tenPercent(conds ...model.Condition) model.Automation {
	return model.Automation{
		ID:       "ten-percent",
		CircleID: "c1",
		Name:     "Ten percent",
		Trigger:  model.TriggerPurchase,
		Status:   model.StatusActive,
		Effect: model.GenerateCommission{Spec: model.CommissionSpec{
			Type:  model.CommissionPercentage,
			Value: decimal.NewFromInt(10),
		}},
		Conditions: conds,
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return newStoreWith(t, tenPercent())
}

func newStoreWith(t *testing.T, automations ...model.Automation) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := model.ProgramConfig{
		ID:          "acme",
		Name:        "Acme",
		Circles:     []model.Circle{{ID: "c1", Name: "Starter"}},
		Promoters:   []model.Promoter{{ID: "alice", Name: "Alice", Reference: "ALICE", CircleID: "c1"}},
		Links:       []model.Link{{ID: "alice-blog", PromoterID: "alice", Name: "Blog", Reference: "alice-blog"}},
		Automations: automations,
	}
	require.NoError(t, st.ApplyProgram(context.Background(), cfg, now))
	return st
}

// newPipeline wires Source -> Engine synchronously.
func newPipeline(t *testing.T) (*store.Store, *Source) {
	t.Helper()
	st := newStore(t)
	agg := aggregate.New(aggregate.WithClock(fixedClock{now}))
	eng := engine.New(st, agg, engine.WithClock(fixedClock{now}))
	src := NewSource(st, agg, eng,
		WithClock(fixedClock{now}),
		WithIDGenerator(model.NewFixedGenerator("gen-1", "gen-2", "gen-3")),
	)
	return st, src
}

func TestSource_RecordPurchase_GeneratesCommission(t *testing.T) {
	st, src := newPipeline(t)
	ctx := context.Background()

	p, err := src.RecordPurchase(ctx, model.Purchase{
		ProgramID:  "acme",
		PromoterID: "alice",
		LinkID:     "alice-blog",
		ContactID:  "bob",
		Amount:     decimal.RequireFromString("250.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", p.ID)
	assert.Equal(t, now, p.CreatedAt)

	comms, err := st.ListCommissions(ctx, store.CommissionFilter{EventID: p.ID})
	require.NoError(t, err)
	require.Len(t, comms, 1)
	assert.True(t, comms[0].Amount.Equal(decimal.RequireFromString("25")))

	day, err := st.GetDayRollup(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.Totals.Purchases)
	assert.True(t, day.Totals.Revenue.Equal(decimal.RequireFromString("250")))
	assert.True(t, day.Totals.PurchaseCommission.Equal(decimal.RequireFromString("25")))
}

func TestSource_RetriedCreationIsIdempotent(t *testing.T) {
	st, src := newPipeline(t)
	ctx := context.Background()
	in := model.Purchase{
		ID: "p1", ProgramID: "acme", PromoterID: "alice", ContactID: "bob",
		Amount: decimal.RequireFromString("40"), CreatedAt: now,
	}

	_, err := src.RecordPurchase(ctx, in)
	require.NoError(t, err)

	changed := in
	changed.Amount = decimal.RequireFromString("999")
	stored, err := src.RecordPurchase(ctx, changed)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("40")), "retry keeps the first write")

	comms, err := st.ListCommissions(ctx, store.CommissionFilter{ProgramID: "acme"})
	require.NoError(t, err)
	assert.Len(t, comms, 1)

	all, err := st.GetRollup(ctx, promoterKey())
	require.NoError(t, err)
	assert.Equal(t, int64(1), all.Totals.Purchases)
	assert.True(t, all.Totals.Commission.Equal(decimal.RequireFromString("4")))
}

func TestSource_UpdateAndDeletePurchase(t *testing.T) {
	st, src := newPipeline(t)
	ctx := context.Background()
	p, err := src.RecordPurchase(ctx, model.Purchase{
		ID: "p1", ProgramID: "acme", PromoterID: "alice", ContactID: "bob",
		Amount: decimal.RequireFromString("40"), CreatedAt: now,
	})
	require.NoError(t, err)

	p.Amount = decimal.RequireFromString("55.25")
	require.NoError(t, src.UpdatePurchase(ctx, p))

	day, err := st.GetDayRollup(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	assert.True(t, day.Totals.Revenue.Equal(decimal.RequireFromString("55.25")))

	require.NoError(t, src.DeletePurchase(ctx, "p1"))
	day, err = st.GetDayRollup(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), day.Totals.Purchases)

	err = src.DeletePurchase(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSource_DeleteCommissionRetractsRollup(t *testing.T) {
	st, src := newPipeline(t)
	ctx := context.Background()
	_, err := src.RecordPurchase(ctx, model.Purchase{
		ID: "p1", ProgramID: "acme", PromoterID: "alice", ContactID: "bob",
		Amount: decimal.RequireFromString("100"), CreatedAt: now,
	})
	require.NoError(t, err)

	comms, err := st.ListCommissions(ctx, store.CommissionFilter{EventID: "p1"})
	require.NoError(t, err)
	require.Len(t, comms, 1)

	require.NoError(t, src.DeleteCommission(ctx, comms[0].ID))

	all, err := st.GetRollup(ctx, promoterKey())
	require.NoError(t, err)
	assert.True(t, all.Totals.Commission.IsZero())
	assert.Equal(t, int64(1), all.Totals.Purchases)
}

func TestSource_SignupLifecycle(t *testing.T) {
	st, src := newPipeline(t)
	ctx := context.Background()

	s, err := src.RecordSignup(ctx, model.Signup{ProgramID: "acme", PromoterID: "alice", ContactID: "carol"})
	require.NoError(t, err)

	n, err := st.CountSignupsUpTo(ctx, "acme", "alice", s.CreatedAt, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	moved := s
	moved.CreatedAt = now.AddDate(0, 0, 1)
	require.NoError(t, src.UpdateSignup(ctx, moved))

	next, err := st.GetDayRollup(ctx, promoterKey(), "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Totals.Signups)

	require.NoError(t, src.DeleteSignup(ctx, s.ID))
	next, err = st.GetDayRollup(ctx, promoterKey(), "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, int64(0), next.Totals.Signups)
}

func TestSource_Validation(t *testing.T) {
	_, src := newPipeline(t)
	ctx := context.Background()

	_, err := src.RecordSignup(ctx, model.Signup{ProgramID: "acme"})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = src.RecordPurchase(ctx, model.Purchase{
		ProgramID: "acme", PromoterID: "alice", ContactID: "bob", Amount: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestSource_HandlerErrorAfterCommit(t *testing.T) {
	st := newStore(t)
	agg := aggregate.New()
	failing := HandlerFunc(func(context.Context, model.TriggerEvent) error { return errors.New("down") })
	src := NewSource(st, agg, failing)

	s, err := src.RecordSignup(context.Background(), model.Signup{
		ID: "s1", ProgramID: "acme", PromoterID: "alice", ContactID: "carol", CreatedAt: now,
	})
	require.Error(t, err)
	assert.Equal(t, "s1", s.ID, "record is committed even when the handler fails")

	_, err = st.GetSignup(context.Background(), "s1")
	assert.NoError(t, err)
}

func TestSource_Apply(t *testing.T) {
	st, src := newPipeline(t)
	ctx := context.Background()

	input := strings.Join([]string{
		`{"kind":"signup.created","signup":{"id":"s1","program_id":"acme","promoter_id":"alice","contact_id":"carol","created_at":"2024-03-10T08:00:00Z"}}`,
		``,
		`{"kind":"purchase.created","purchase":{"id":"p1","program_id":"acme","promoter_id":"alice","contact_id":"carol","amount":"19.99","created_at":"2024-03-10T09:00:00Z"}}`,
		`{"kind":"signup.deleted","id":"s1"}`,
	}, "\n")

	var lines []int
	err := ReadEnvelopes(strings.NewReader(input), func(line int, env Envelope) error {
		lines = append(lines, line)
		return src.Apply(ctx, env)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, lines)

	day, err := st.GetDayRollup(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), day.Totals.Signups)
	assert.Equal(t, int64(1), day.Totals.Purchases)
	assert.True(t, day.Totals.PurchaseCommission.Equal(decimal.RequireFromString("2")))
}

func TestApply_Malformed(t *testing.T) {
	_, src := newPipeline(t)
	ctx := context.Background()

	assert.ErrorIs(t, src.Apply(ctx, Envelope{Kind: "refund.created"}), ErrInvalidRecord)
	assert.ErrorIs(t, src.Apply(ctx, Envelope{Kind: KindPurchaseCreated}), ErrInvalidRecord)
	assert.ErrorIs(t, src.Apply(ctx, Envelope{Kind: KindCommissionDeleted}), ErrInvalidRecord)

	err := ReadEnvelopes(strings.NewReader(`{"kind":"signup.created","bogus":1}`), func(int, Envelope) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
