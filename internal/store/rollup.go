package store

import (
	"context"
	"fmt"

	"github.com/roach88/referral/internal/model"
)

// rollupTables names the day-wise and all-time tables of a dimension.
func rollupTables(d model.Dimension) (daily, alltime string, err error) {
	switch d {
	case model.DimensionPromoter:
		return "promoter_stats_daily", "promoter_stats", nil
	case model.DimensionLink:
		return "link_stats_daily", "link_stats", nil
	default:
		return "", "", fmt.Errorf("unknown dimension %q", d)
	}
}

const metricColumns = `signups, purchases, revenue, commission, signup_commission, purchase_commission`

func metricArgs(m model.Totals) []any {
	return []any{
		m.Signups,
		m.Purchases,
		m.Revenue.String(),
		m.Commission.String(),
		m.SignupCommission.String(),
		m.PurchaseCommission.String(),
	}
}

// scanTotals parses the metric columns in metricColumns order.
func scanTotals(signups, purchases int64, money [4]string) (model.Totals, error) {
	t := model.Totals{Signups: signups, Purchases: purchases}
	var err error
	if t.Revenue, err = parseDecimal(money[0]); err != nil {
		return model.Totals{}, err
	}
	if t.Commission, err = parseDecimal(money[1]); err != nil {
		return model.Totals{}, err
	}
	if t.SignupCommission, err = parseDecimal(money[2]); err != nil {
		return model.Totals{}, err
	}
	if t.PurchaseCommission, err = parseDecimal(money[3]); err != nil {
		return model.Totals{}, err
	}
	return t, nil
}

// UpsertDayRollup inserts the day row or overwrites its metrics in place.
// created_at of an existing row is kept; updated_at is set to r.UpdatedAt.
func (t *Tx) UpsertDayRollup(ctx context.Context, r model.DayRollup) error {
	daily, _, err := rollupTables(r.Dimension)
	if err != nil {
		return err
	}

	args := []any{r.Date, r.ID, r.ProgramID, r.Name, r.Reference}
	args = append(args, metricArgs(r.Totals)...)
	args = append(args, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO `+daily+` (date, key_id, program_id, name, reference, `+metricColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, key_id, program_id) DO UPDATE SET
			name = excluded.name,
			reference = excluded.reference,
			signups = excluded.signups,
			purchases = excluded.purchases,
			revenue = excluded.revenue,
			commission = excluded.commission,
			signup_commission = excluded.signup_commission,
			purchase_commission = excluded.purchase_commission,
			updated_at = excluded.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("upsert %s row %s %s: %w", daily, r.Key, r.Date, err)
	}
	return nil
}

// DeleteDayRollup removes one day row. Returns false if there was none.
func (t *Tx) DeleteDayRollup(ctx context.Context, key model.Key, date string) (bool, error) {
	daily, _, err := rollupTables(key.Dimension)
	if err != nil {
		return false, err
	}
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM `+daily+` WHERE date = ? AND key_id = ? AND program_id = ?
	`, date, key.ID, key.ProgramID)
	if err != nil {
		return false, fmt.Errorf("delete %s row: %w", daily, err)
	}
	return affected(res, "delete "+daily+" row")
}

func scanDayRollup(key model.Key, row rowScanner) (model.DayRollup, error) {
	var (
		r                    model.DayRollup
		signups, purchases   int64
		money                [4]string
		createdAt, updatedAt string
	)
	err := row.Scan(&r.Date, &r.Name, &r.Reference, &signups, &purchases,
		&money[0], &money[1], &money[2], &money[3], &createdAt, &updatedAt)
	if err != nil {
		return model.DayRollup{}, err
	}
	r.Key = key
	if r.Totals, err = scanTotals(signups, purchases, money); err != nil {
		return model.DayRollup{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.DayRollup{}, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.DayRollup{}, err
	}
	return r, nil
}

// GetDayRollup returns one day row. Returns ErrNotFound if absent.
func (t *Tx) GetDayRollup(ctx context.Context, key model.Key, date string) (model.DayRollup, error) {
	daily, _, err := rollupTables(key.Dimension)
	if err != nil {
		return model.DayRollup{}, err
	}
	row := t.q.QueryRowContext(ctx, `
		SELECT date, name, reference, `+metricColumns+`, created_at, updated_at
		FROM `+daily+`
		WHERE date = ? AND key_id = ? AND program_id = ?
	`, date, key.ID, key.ProgramID)

	r, err := scanDayRollup(key, row)
	if isNotFound(err) {
		return model.DayRollup{}, fmt.Errorf("%s row %s %s: %w", daily, key, date, ErrNotFound)
	}
	if err != nil {
		return model.DayRollup{}, fmt.Errorf("read %s row: %w", daily, err)
	}
	return r, nil
}

// ListDayRollups returns all day rows of a key ordered by date.
func (t *Tx) ListDayRollups(ctx context.Context, key model.Key) ([]model.DayRollup, error) {
	daily, _, err := rollupTables(key.Dimension)
	if err != nil {
		return nil, err
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT date, name, reference, `+metricColumns+`, created_at, updated_at
		FROM `+daily+`
		WHERE key_id = ? AND program_id = ?
		ORDER BY date ASC
	`, key.ID, key.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", daily, err)
	}
	defer rows.Close()

	out := []model.DayRollup{}
	for rows.Next() {
		r, err := scanDayRollup(key, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", daily, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", daily, err)
	}
	return out, nil
}

// ListDayRollupsByDate returns the day rows of every key of a dimension in
// a program on one date, ordered by key id.
func (t *Tx) ListDayRollupsByDate(ctx context.Context, dim model.Dimension, programID, date string) ([]model.DayRollup, error) {
	daily, _, err := rollupTables(dim)
	if err != nil {
		return nil, err
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT key_id, date, name, reference, `+metricColumns+`, created_at, updated_at
		FROM `+daily+`
		WHERE program_id = ? AND date = ?
		ORDER BY key_id COLLATE BINARY ASC
	`, programID, date)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", daily, err)
	}
	defer rows.Close()

	out := []model.DayRollup{}
	for rows.Next() {
		var keyID string
		r, err := scanDayRollup(model.Key{}, prefixScanner{rows, &keyID})
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", daily, err)
		}
		r.Key = model.Key{Dimension: dim, ID: keyID, ProgramID: programID}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", daily, err)
	}
	return out, nil
}

// SumDayRollups returns the SUM of a key's day rows and how many there are.
func (t *Tx) SumDayRollups(ctx context.Context, key model.Key) (model.Totals, int, error) {
	days, err := t.ListDayRollups(ctx, key)
	if err != nil {
		return model.Totals{}, 0, err
	}
	var sum model.Totals
	for _, d := range days {
		sum = sum.Add(d.Totals)
	}
	return sum, len(days), nil
}

// UpsertRollup inserts or overwrites a key's all-time row.
func (t *Tx) UpsertRollup(ctx context.Context, r model.Rollup) error {
	_, alltime, err := rollupTables(r.Dimension)
	if err != nil {
		return err
	}

	args := []any{r.ID, r.ProgramID, r.Name, r.Reference}
	args = append(args, metricArgs(r.Totals)...)
	args = append(args, r.Days, formatTime(r.UpdatedAt))

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO `+alltime+` (key_id, program_id, name, reference, `+metricColumns+`, days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_id, program_id) DO UPDATE SET
			name = excluded.name,
			reference = excluded.reference,
			signups = excluded.signups,
			purchases = excluded.purchases,
			revenue = excluded.revenue,
			commission = excluded.commission,
			signup_commission = excluded.signup_commission,
			purchase_commission = excluded.purchase_commission,
			days = excluded.days,
			updated_at = excluded.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("upsert %s row %s: %w", alltime, r.Key, err)
	}
	return nil
}

// DeleteRollup removes a key's all-time row. Returns false if there was none.
func (t *Tx) DeleteRollup(ctx context.Context, key model.Key) (bool, error) {
	_, alltime, err := rollupTables(key.Dimension)
	if err != nil {
		return false, err
	}
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM `+alltime+` WHERE key_id = ? AND program_id = ?
	`, key.ID, key.ProgramID)
	if err != nil {
		return false, fmt.Errorf("delete %s row: %w", alltime, err)
	}
	return affected(res, "delete "+alltime+" row")
}

func scanRollup(row rowScanner) (model.Rollup, error) {
	var (
		r                  model.Rollup
		signups, purchases int64
		money              [4]string
		updatedAt          string
	)
	err := row.Scan(&r.ID, &r.ProgramID, &r.Name, &r.Reference, &signups, &purchases,
		&money[0], &money[1], &money[2], &money[3], &r.Days, &updatedAt)
	if err != nil {
		return model.Rollup{}, err
	}
	if r.Totals, err = scanTotals(signups, purchases, money); err != nil {
		return model.Rollup{}, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Rollup{}, err
	}
	return r, nil
}

// GetRollup returns a key's all-time row. Returns ErrNotFound if absent.
func (t *Tx) GetRollup(ctx context.Context, key model.Key) (model.Rollup, error) {
	_, alltime, err := rollupTables(key.Dimension)
	if err != nil {
		return model.Rollup{}, err
	}
	row := t.q.QueryRowContext(ctx, `
		SELECT key_id, program_id, name, reference, `+metricColumns+`, days, updated_at
		FROM `+alltime+`
		WHERE key_id = ? AND program_id = ?
	`, key.ID, key.ProgramID)

	r, err := scanRollup(row)
	if isNotFound(err) {
		return model.Rollup{}, fmt.Errorf("%s row %s: %w", alltime, key, ErrNotFound)
	}
	if err != nil {
		return model.Rollup{}, fmt.Errorf("read %s row: %w", alltime, err)
	}
	r.Dimension = key.Dimension
	return r, nil
}

// ListRollups returns the all-time rows of a dimension in a program, ordered by key id.
func (t *Tx) ListRollups(ctx context.Context, dim model.Dimension, programID string) ([]model.Rollup, error) {
	_, alltime, err := rollupTables(dim)
	if err != nil {
		return nil, err
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT key_id, program_id, name, reference, `+metricColumns+`, days, updated_at
		FROM `+alltime+`
		WHERE program_id = ?
		ORDER BY key_id COLLATE BINARY ASC
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", alltime, err)
	}
	defer rows.Close()

	out := []model.Rollup{}
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", alltime, err)
		}
		r.Dimension = dim
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", alltime, err)
	}
	return out, nil
}

// DeleteProgramRollups removes every day-wise and all-time row of a program.
// Used by full rebuilds before recomputation.
func (t *Tx) DeleteProgramRollups(ctx context.Context, programID string) error {
	for _, dim := range model.Dimensions {
		daily, alltime, err := rollupTables(dim)
		if err != nil {
			return err
		}
		for _, table := range []string{daily, alltime} {
			if _, err := t.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE program_id = ?`, programID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
	}
	return nil
}

// prefixScanner scans a leading key column before delegating the rest.
type prefixScanner struct {
	rows  rowScanner
	first *string
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.first}, dest...)...)
}
