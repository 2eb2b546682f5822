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

func promoterKey() model.Key {
	return model.Key{Dimension: model.DimensionPromoter, ID: "alice", ProgramID: "acme"}
}

func linkKey() model.Key {
	return model.Key{Dimension: model.DimensionLink, ID: "alice-blog", ProgramID: "acme"}
}

func TestCounts(t *testing.T) {
	s := createConfiguredStore(t)
	ctx := context.Background()

	for i, id := range []string{"p-1", "p-2", "p-3"} {
		_, err := s.InsertPurchase(ctx, testPurchase(id, "10", testNow.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := s.InsertSignup(ctx, testSignup("s-1", testNow))
	require.NoError(t, err)

	n, err := s.CountPurchasesUpTo(ctx, "acme", "alice", testNow.Add(2*time.Hour), "p-3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.CountPurchasesUpTo(ctx, "acme", "alice", testNow.Add(time.Hour), "p-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "later purchases are not counted")

	n, err = s.CountSignupsUpTo(ctx, "acme", "alice", testNow, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountPurchasesUpTo(ctx, "acme", "bob", testNow.Add(24*time.Hour), "z")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCounts_SameTimestampOrderedByID(t *testing.T) {
	s := createConfiguredStore(t)
	ctx := context.Background()

	for _, id := range []string{"p-b", "p-a", "p-c"} {
		_, err := s.InsertPurchase(ctx, testPurchase(id, "10", testNow))
		require.NoError(t, err)
	}

	n, err := s.CountPurchasesUpTo(ctx, "acme", "alice", testNow, "p-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.CountPurchasesUpTo(ctx, "acme", "alice", testNow, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "empty id counts the whole timestamp")

	n, err = s.CountPurchasesUpTo(ctx, "acme", "alice", testNow.Add(-time.Second), "p-z")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWindowQueries_DayBoundaries(t *testing.T) {
	s := createConfiguredStore(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	purchases := []model.Purchase{
		testPurchase("before", "1", day.Add(-time.Microsecond)),
		testPurchase("start", "10.25", day),
		testPurchase("late", "4.75", day.Add(24*time.Hour-time.Microsecond)),
		testPurchase("next", "100", day.Add(24*time.Hour)),
	}
	for _, p := range purchases {
		_, err := s.InsertPurchase(ctx, p)
		require.NoError(t, err)
	}

	count, total, err := s.SumPurchasesInWindow(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, total.Equal(decimal.NewFromInt(15)), "total = %s", total)

	count, total, err = s.SumPurchasesInWindow(ctx, linkKey(), "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, total.Equal(decimal.NewFromInt(15)))

	_, err = s.InsertSignup(ctx, testSignup("s-1", day.Add(time.Hour)))
	require.NoError(t, err)
	n, err := s.CountSignupsInWindow(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountSignupsInWindow(ctx, promoterKey(), "2024-03-11")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _, err = s.SumPurchasesInWindow(ctx, promoterKey(), "not-a-day")
	assert.Error(t, err)
}

func TestFindCommissionsByKeyAndDateWindow(t *testing.T) {
	s := createConfiguredStore(t)
	ctx := context.Background()

	insert := func(id, linkID string, at time.Time) {
		_, err := s.InsertCommission(ctx, model.Commission{
			ID: id, AutomationID: "a", EventID: "e-" + id, ProgramID: "acme", PromoterID: "alice",
			LinkID: linkID, ContactID: "bob", ConversionType: model.ConversionSignup,
			Amount: decimal.NewFromInt(1), CreatedAt: at,
		})
		require.NoError(t, err)
	}
	insert("c-1", "alice-blog", testNow)
	insert("c-2", "", testNow.Add(time.Minute))
	insert("c-3", "alice-blog", testNow.AddDate(0, 0, 1))

	got, err := s.FindCommissionsByKeyAndDateWindow(ctx, promoterKey(), "2024-03-10")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-1", got[0].ID)
	assert.Equal(t, "c-2", got[1].ID)

	got, err = s.FindCommissionsByKeyAndDateWindow(ctx, linkKey(), "2024-03-10")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-1", got[0].ID)

	all, err := s.ListCommissions(ctx, CommissionFilter{ProgramID: "acme"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byEvent, err := s.ListCommissions(ctx, CommissionFilter{EventID: "e-c-3"})
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, "c-3", byEvent[0].ID)
}

func TestListBuckets(t *testing.T) {
	s := createConfiguredStore(t)
	ctx := context.Background()

	_, err := s.InsertSignup(ctx, testSignup("s-1", testNow))
	require.NoError(t, err)
	_, err = s.InsertPurchase(ctx, testPurchase("p-1", "5", testNow))
	require.NoError(t, err)
	p := testPurchase("p-2", "5", testNow.AddDate(0, 0, 1))
	p.LinkID = ""
	_, err = s.InsertPurchase(ctx, p)
	require.NoError(t, err)

	buckets, err := s.ListBuckets(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []model.Bucket{
		{Key: promoterKey(), Date: "2024-03-10"},
		{Key: promoterKey(), Date: "2024-03-11"},
		{Key: linkKey(), Date: "2024-03-10"},
	}, buckets)
}
