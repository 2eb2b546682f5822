package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/model"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// keyColumn returns the base-record column a rollup dimension is keyed on.
func keyColumn(d model.Dimension) (string, error) {
	switch d {
	case model.DimensionPromoter:
		return "promoter_id", nil
	case model.DimensionLink:
		return "link_id", nil
	default:
		return "", fmt.Errorf("unknown dimension %q", d)
	}
}

// GetSignup retrieves a signup by id. Returns ErrNotFound if absent.
func (t *Tx) GetSignup(ctx context.Context, id string) (model.Signup, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, program_id, promoter_id, link_id, contact_id, external_id, created_at
		FROM signups WHERE id = ?
	`, id)

	var (
		s                  model.Signup
		linkID, externalID sql.NullString
		createdAt          string
	)
	err := row.Scan(&s.ID, &s.ProgramID, &s.PromoterID, &linkID, &s.ContactID, &externalID, &createdAt)
	if isNotFound(err) {
		return model.Signup{}, fmt.Errorf("signup %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Signup{}, fmt.Errorf("read signup: %w", err)
	}
	s.LinkID = linkID.String
	s.ExternalID = externalID.String
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Signup{}, fmt.Errorf("read signup: %w", err)
	}
	return s, nil
}

// GetPurchase retrieves a purchase by id. Returns ErrNotFound if absent.
func (t *Tx) GetPurchase(ctx context.Context, id string) (model.Purchase, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, program_id, promoter_id, link_id, contact_id, external_id, item_id, amount, created_at
		FROM purchases WHERE id = ?
	`, id)

	var (
		p                          model.Purchase
		linkID, externalID, itemID sql.NullString
		amount, createdAt          string
	)
	err := row.Scan(&p.ID, &p.ProgramID, &p.PromoterID, &linkID, &p.ContactID, &externalID, &itemID, &amount, &createdAt)
	if isNotFound(err) {
		return model.Purchase{}, fmt.Errorf("purchase %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Purchase{}, fmt.Errorf("read purchase: %w", err)
	}
	p.LinkID = linkID.String
	p.ExternalID = externalID.String
	p.ItemID = itemID.String
	if p.Amount, err = parseDecimal(amount); err != nil {
		return model.Purchase{}, fmt.Errorf("read purchase: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Purchase{}, fmt.Errorf("read purchase: %w", err)
	}
	return p, nil
}

const commissionColumns = `id, automation_id, event_id, program_id, promoter_id, link_id, contact_id,
	conversion_type, amount, revenue, created_at, updated_at`

func scanCommission(row rowScanner) (model.Commission, error) {
	var (
		c                    model.Commission
		linkID, revenue      sql.NullString
		conversion, amount   string
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.AutomationID, &c.EventID, &c.ProgramID, &c.PromoterID, &linkID, &c.ContactID,
		&conversion, &amount, &revenue, &createdAt, &updatedAt)
	if err != nil {
		return model.Commission{}, err
	}
	c.LinkID = linkID.String
	c.ConversionType = model.ConversionType(conversion)
	if c.Amount, err = parseDecimal(amount); err != nil {
		return model.Commission{}, err
	}
	if revenue.Valid {
		r, err := parseDecimal(revenue.String)
		if err != nil {
			return model.Commission{}, err
		}
		c.Revenue = &r
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Commission{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Commission{}, err
	}
	return c, nil
}

// GetCommission retrieves a commission by id. Returns ErrNotFound if absent.
func (t *Tx) GetCommission(ctx context.Context, id string) (model.Commission, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = ?`, id)
	c, err := scanCommission(row)
	if isNotFound(err) {
		return model.Commission{}, fmt.Errorf("commission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Commission{}, fmt.Errorf("read commission: %w", err)
	}
	return c, nil
}

// CommissionFilter narrows ListCommissions. Empty fields match everything.
type CommissionFilter struct {
	ProgramID  string
	PromoterID string
	LinkID     string
	EventID    string
}

// ListCommissions returns commissions matching f ordered by creation time, then id.
func (t *Tx) ListCommissions(ctx context.Context, f CommissionFilter) ([]model.Commission, error) {
	var (
		where []string
		args  []any
	)
	for _, c := range []struct {
		col, val string
	}{
		{"program_id", f.ProgramID},
		{"promoter_id", f.PromoterID},
		{"link_id", f.LinkID},
		{"event_id", f.EventID},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}

	query := `SELECT ` + commissionColumns + ` FROM commissions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id COLLATE BINARY ASC`

	return t.queryCommissions(ctx, query, args...)
}

// FindCommissionsByKeyAndDateWindow returns the commissions owned by key
// that were created on the given calendar day.
func (t *Tx) FindCommissionsByKeyAndDateWindow(ctx context.Context, key model.Key, date string) ([]model.Commission, error) {
	col, err := keyColumn(key.Dimension)
	if err != nil {
		return nil, err
	}
	start, end, err := dayWindow(date)
	if err != nil {
		return nil, err
	}

	return t.queryCommissions(ctx, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE program_id = ? AND `+col+` = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, key.ProgramID, key.ID, start, end)
}

func (t *Tx) queryCommissions(ctx context.Context, query string, args ...any) ([]model.Commission, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commissions: %w", err)
	}
	defer rows.Close()

	commissions := []model.Commission{}
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commission: %w", err)
		}
		commissions = append(commissions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commissions: %w", err)
	}
	return commissions, nil
}

// CountSignupsUpTo returns the number of signups a promoter has in a
// program at or before the signup (at, id). Records sharing a timestamp are
// ordered by id; an empty id counts every record created at or before at.
func (t *Tx) CountSignupsUpTo(ctx context.Context, programID, promoterID string, at time.Time, id string) (int64, error) {
	var n int64
	ts := formatTime(at)
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signups
		WHERE program_id = ? AND promoter_id = ?
		  AND (created_at < ? OR (created_at = ? AND (? = '' OR id <= ?)))
	`, programID, promoterID, ts, ts, id, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count signups: %w", err)
	}
	return n, nil
}

// CountPurchasesUpTo returns the number of purchases a promoter has in a
// program at or before the purchase (at, id).
func (t *Tx) CountPurchasesUpTo(ctx context.Context, programID, promoterID string, at time.Time, id string) (int64, error) {
	var n int64
	ts := formatTime(at)
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM purchases
		WHERE program_id = ? AND promoter_id = ?
		  AND (created_at < ? OR (created_at = ? AND (? = '' OR id <= ?)))
	`, programID, promoterID, ts, ts, id, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}

// CountSignupsInWindow counts the key's signups created on date.
func (t *Tx) CountSignupsInWindow(ctx context.Context, key model.Key, date string) (int64, error) {
	col, err := keyColumn(key.Dimension)
	if err != nil {
		return 0, err
	}
	start, end, err := dayWindow(date)
	if err != nil {
		return 0, err
	}

	var n int64
	err = t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signups
		WHERE program_id = ? AND `+col+` = ? AND created_at >= ? AND created_at < ?
	`, key.ProgramID, key.ID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count signups in window: %w", err)
	}
	return n, nil
}

// SumPurchasesInWindow returns the count and total amount of the key's
// purchases created on date.
func (t *Tx) SumPurchasesInWindow(ctx context.Context, key model.Key, date string) (int64, decimal.Decimal, error) {
	col, err := keyColumn(key.Dimension)
	if err != nil {
		return 0, decimal.Zero, err
	}
	start, end, err := dayWindow(date)
	if err != nil {
		return 0, decimal.Zero, err
	}

	rows, err := t.q.QueryContext(ctx, `
		SELECT amount FROM purchases
		WHERE program_id = ? AND `+col+` = ? AND created_at >= ? AND created_at < ?
	`, key.ProgramID, key.ID, start, end)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("sum purchases in window: %w", err)
	}
	defer rows.Close()

	var (
		count int64
		total = decimal.Zero
	)
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return 0, decimal.Zero, fmt.Errorf("scan purchase amount: %w", err)
		}
		d, err := parseDecimal(amount)
		if err != nil {
			return 0, decimal.Zero, err
		}
		total = total.Add(d)
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, decimal.Zero, fmt.Errorf("iterate purchase amounts: %w", err)
	}
	return count, total, nil
}

// ListBuckets returns every (key, day) that has at least one signup,
// purchase or commission in the program, sorted by dimension, key, then date.
func (t *Tx) ListBuckets(ctx context.Context, programID string) ([]model.Bucket, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT substr(created_at, 1, 10), promoter_id, link_id FROM signups WHERE program_id = ?
		UNION
		SELECT substr(created_at, 1, 10), promoter_id, link_id FROM purchases WHERE program_id = ?
		UNION
		SELECT substr(created_at, 1, 10), promoter_id, link_id FROM commissions WHERE program_id = ?
	`, programID, programID, programID)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	seen := make(map[model.Bucket]bool)
	for rows.Next() {
		var (
			date, promoterID string
			linkID           sql.NullString
		)
		if err := rows.Scan(&date, &promoterID, &linkID); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		seen[model.Bucket{Key: model.Key{Dimension: model.DimensionPromoter, ID: promoterID, ProgramID: programID}, Date: date}] = true
		if linkID.Valid && linkID.String != "" {
			seen[model.Bucket{Key: model.Key{Dimension: model.DimensionLink, ID: linkID.String, ProgramID: programID}, Date: date}] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}

	buckets := make([]model.Bucket, 0, len(seen))
	for b := range seen {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.Key.Dimension != b.Key.Dimension {
			return a.Key.Dimension > b.Key.Dimension // promoter before link
		}
		if a.Key.ID != b.Key.ID {
			return a.Key.ID < b.Key.ID
		}
		return a.Date < b.Date
	})
	return buckets, nil
}
