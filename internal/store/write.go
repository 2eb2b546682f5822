package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/referral/internal/model"
)

// InsertSignup inserts a signup record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: a retried creation
// returns inserted=false and leaves the stored row untouched.
func (t *Tx) InsertSignup(ctx context.Context, s model.Signup) (inserted bool, err error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO signups (id, program_id, promoter_id, link_id, contact_id, external_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		s.ID,
		s.ProgramID,
		s.PromoterID,
		nullString(s.LinkID),
		s.ContactID,
		nullString(s.ExternalID),
		formatTime(s.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("write signup: %w", err)
	}
	return affected(res, "write signup")
}

// UpdateSignup overwrites a stored signup. Returns ErrNotFound if absent.
func (t *Tx) UpdateSignup(ctx context.Context, s model.Signup) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE signups
		SET program_id = ?, promoter_id = ?, link_id = ?, contact_id = ?, external_id = ?, created_at = ?
		WHERE id = ?
	`,
		s.ProgramID,
		s.PromoterID,
		nullString(s.LinkID),
		s.ContactID,
		nullString(s.ExternalID),
		formatTime(s.CreatedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update signup: %w", err)
	}
	return mustAffect(res, "update signup", s.ID)
}

// DeleteSignup removes a signup. Returns ErrNotFound if absent.
func (t *Tx) DeleteSignup(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM signups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete signup: %w", err)
	}
	return mustAffect(res, "delete signup", id)
}

// InsertPurchase inserts a purchase record with ON CONFLICT(id) DO NOTHING.
func (t *Tx) InsertPurchase(ctx context.Context, p model.Purchase) (inserted bool, err error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO purchases (id, program_id, promoter_id, link_id, contact_id, external_id, item_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		p.ID,
		p.ProgramID,
		p.PromoterID,
		nullString(p.LinkID),
		p.ContactID,
		nullString(p.ExternalID),
		nullString(p.ItemID),
		p.Amount.String(),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("write purchase: %w", err)
	}
	return affected(res, "write purchase")
}

// UpdatePurchase overwrites a stored purchase. Returns ErrNotFound if absent.
func (t *Tx) UpdatePurchase(ctx context.Context, p model.Purchase) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE purchases
		SET program_id = ?, promoter_id = ?, link_id = ?, contact_id = ?, external_id = ?,
			item_id = ?, amount = ?, created_at = ?
		WHERE id = ?
	`,
		p.ProgramID,
		p.PromoterID,
		nullString(p.LinkID),
		p.ContactID,
		nullString(p.ExternalID),
		nullString(p.ItemID),
		p.Amount.String(),
		formatTime(p.CreatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	return mustAffect(res, "update purchase", p.ID)
}

// DeletePurchase removes a purchase. Returns ErrNotFound if absent.
func (t *Tx) DeletePurchase(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM purchases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}
	return mustAffect(res, "delete purchase", id)
}

// InsertCommission stores a commission and returns it as written.
// Commissions are immutable; a duplicate id is an error.
func (t *Tx) InsertCommission(ctx context.Context, c model.Commission) (model.Commission, error) {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.Amount = c.Amount.Round(2)

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO commissions
		(id, automation_id, event_id, program_id, promoter_id, link_id, contact_id,
		 conversion_type, amount, revenue, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.AutomationID,
		c.EventID,
		c.ProgramID,
		c.PromoterID,
		nullString(c.LinkID),
		c.ContactID,
		string(c.ConversionType),
		c.Amount.StringFixed(2),
		nullDecimal(c.Revenue),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return model.Commission{}, fmt.Errorf("write commission: %w", err)
	}
	return c, nil
}

// DeleteCommission retracts a commission. Returns ErrNotFound if absent.
// The firing row is kept, so a retried event does not recreate it.
func (t *Tx) DeleteCommission(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM commissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete commission: %w", err)
	}
	return mustAffect(res, "delete commission", id)
}

// RecordFiring claims the (event, automation) slot for an effect.
// Returns false if the automation already fired for this event.
func (t *Tx) RecordFiring(ctx context.Context, eventID, automationID, commissionID string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO automation_firings (event_id, automation_id, commission_id, fired_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id, automation_id) DO NOTHING
	`, eventID, automationID, nullString(commissionID), formatTime(at))
	if err != nil {
		return false, fmt.Errorf("write firing: %w", err)
	}
	return affected(res, "write firing")
}

// HasFiring reports whether an automation already fired for an event.
func (t *Tx) HasFiring(ctx context.Context, eventID, automationID string) (bool, error) {
	var count int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM automation_firings WHERE event_id = ? AND automation_id = ?
	`, eventID, automationID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check firing: %w", err)
	}
	return count > 0, nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}

func mustAffect(res sql.Result, op, id string) error {
	ok, err := affected(res, op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// isNotFound folds sql.ErrNoRows into ErrNotFound for single-row reads.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
