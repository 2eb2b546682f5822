package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/model"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testProgram is a minimal program: circles c1/c2, promoter alice in c1
// with link alice-blog, and one percentage automation.
func testProgram() model.ProgramConfig {
	return model.ProgramConfig{
		ID:   "acme",
		Name: "Acme",
		Circles: []model.Circle{
			{ID: "c1", Name: "Starter"},
			{ID: "c2", Name: "Gold"},
		},
		Promoters: []model.Promoter{
			{ID: "alice", Name: "Alice", Reference: "ALICE", CircleID: "c1"},
			{ID: "bob", Name: "Bob", Reference: "BOB", CircleID: "c1"},
		},
		Links: []model.Link{
			{ID: "alice-blog", PromoterID: "alice", Name: "Blog", Reference: "alice-blog"},
		},
		Automations: []model.Automation{
			{
				ID:       "ten-percent",
				CircleID: "c1",
				Name:     "Ten percent",
				Trigger:  model.TriggerPurchase,
				Status:   model.StatusActive,
				Effect: model.GenerateCommission{Spec: model.CommissionSpec{
					Type:  model.CommissionPercentage,
					Value: decimal.NewFromInt(10),
				}},
				Conditions: []model.Condition{
					{ID: "max-five", Parameter: model.ParamPurchaseCount, Operator: model.OpLessOrEqual, Value: "5"},
				},
			},
		},
	}
}

// createConfiguredStore returns a store with testProgram applied.
func createConfiguredStore(t *testing.T) *Store {
	t.Helper()
	s := createTestStore(t)
	if err := s.ApplyProgram(context.Background(), testProgram(), testNow); err != nil {
		t.Fatalf("ApplyProgram() failed: %v", err)
	}
	return s
}

func testPurchase(id string, amount string, at time.Time) model.Purchase {
	return model.Purchase{
		ID:         id,
		ProgramID:  "acme",
		PromoterID: "alice",
		LinkID:     "alice-blog",
		ContactID:  "contact-" + id,
		ItemID:     "sku-1",
		Amount:     decimal.RequireFromString(amount),
		CreatedAt:  at,
	}
}

func testSignup(id string, at time.Time) model.Signup {
	return model.Signup{
		ID:         id,
		ProgramID:  "acme",
		PromoterID: "alice",
		LinkID:     "alice-blog",
		ContactID:  "contact-" + id,
		CreatedAt:  at,
	}
}
