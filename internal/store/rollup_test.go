package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/model"
)

func testTotals(revenue string) model.Totals {
	return model.Totals{
		Signups:            1,
		Purchases:          2,
		Revenue:            decimal.RequireFromString(revenue),
		Commission:         decimal.RequireFromString("3.50"),
		SignupCommission:   decimal.RequireFromString("1.00"),
		PurchaseCommission: decimal.RequireFromString("2.50"),
	}
}

func TestUpsertDayRollup_KeepsCreatedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	row := model.DayRollup{
		Key: promoterKey(), Date: "2024-03-10", Name: "Alice", Reference: "ALICE",
		Totals: testTotals("100"), CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, s.UpsertDayRollup(ctx, row))

	later := testNow.Add(time.Hour)
	row.Totals = testTotals("250.50")
	row.CreatedAt = later
	row.UpdatedAt = later
	require.NoError(t, s.UpsertDayRollup(ctx, row))

	got, err := s.GetDayRollup(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, testNow, got.CreatedAt)
	assert.Equal(t, later, got.UpdatedAt)
	assert.True(t, got.Totals.Equal(testTotals("250.50")))
	assert.Equal(t, "Alice", got.Name)

	_, err = s.GetDayRollup(ctx, linkKey(), "2024-03-10")
	assert.ErrorIs(t, err, ErrNotFound, "dimensions use separate tables")
}

func TestDayRollups_ListAndSum(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"2024-03-11", "2024-03-10"} {
		require.NoError(t, s.UpsertDayRollup(ctx, model.DayRollup{
			Key: linkKey(), Date: date, Totals: testTotals("10"), CreatedAt: testNow, UpdatedAt: testNow,
		}))
	}

	days, err := s.ListDayRollups(ctx, linkKey())
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-03-10", days[0].Date)
	assert.Equal(t, linkKey(), days[0].Key)

	sum, n, err := s.SumDayRollups(ctx, linkKey())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(4), sum.Purchases)
	assert.True(t, sum.Revenue.Equal(decimal.NewFromInt(20)))
	assert.True(t, sum.Commission.Equal(decimal.NewFromInt(7)))

	byDate, err := s.ListDayRollupsByDate(ctx, model.DimensionLink, "acme", "2024-03-11")
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, linkKey(), byDate[0].Key)

	deleted, err := s.DeleteDayRollup(ctx, linkKey(), "2024-03-10")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteDayRollup(ctx, linkKey(), "2024-03-10")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRollup_UpsertGetListDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := model.Rollup{Key: promoterKey(), Name: "Alice", Reference: "ALICE", Totals: testTotals("5"), Days: 1, UpdatedAt: testNow}
	require.NoError(t, s.UpsertRollup(ctx, r))
	r.Totals = testTotals("6")
	r.Days = 2
	require.NoError(t, s.UpsertRollup(ctx, r))

	got, err := s.GetRollup(ctx, promoterKey())
	require.NoError(t, err)
	assert.Equal(t, promoterKey(), got.Key)
	assert.Equal(t, 2, got.Days)
	assert.True(t, got.Totals.Equal(testTotals("6")))

	list, err := s.ListRollups(ctx, model.DimensionPromoter, "acme")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := s.DeleteRollup(ctx, promoterKey())
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = s.GetRollup(ctx, promoterKey())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteProgramRollups(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDayRollup(ctx, model.DayRollup{Key: promoterKey(), Date: "2024-03-10", CreatedAt: testNow, UpdatedAt: testNow}))
	require.NoError(t, s.UpsertRollup(ctx, model.Rollup{Key: linkKey(), UpdatedAt: testNow}))
	require.NoError(t, s.DeleteProgramRollups(ctx, "acme"))

	days, err := s.ListDayRollups(ctx, promoterKey())
	require.NoError(t, err)
	assert.Empty(t, days)
	list, err := s.ListRollups(ctx, model.DimensionLink, "acme")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRollupTables_UnknownDimension(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRollup(context.Background(), model.Key{Dimension: "contact", ID: "x", ProgramID: "acme"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
