package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrClientIDRequired is returned when a journal row has no client id.
var ErrClientIDRequired = errors.New("client_id is required")

// Journal statuses that are not venue order statuses.
const (
	StatusPending     = "PENDING"
	StatusUnconfirmed = "UNCONFIRMED" // never seen at the venue after a restart
)

// JournalEntry is one order submission attempt.
type JournalEntry struct {
	ClientID        string
	Venue           string
	Symbol          string
	Side            string
	OrderType       string
	AmountKind      string
	Amount          float64
	LimitPrice      float64
	StopPrice       float64
	TrailPercent    float64
	TimeInForce     string
	ExtendedHours   bool
	TakeProfitPrice *float64
	StopLossPrice   *float64
	StrategyID      string
	VenueOrderID    string
	Status          string
	ErrorCode       string
	ErrorMessage    string
	LatencyMs       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RecordSubmission inserts a journal row before the order is sent.
func (d *Database) RecordSubmission(ctx context.Context, e JournalEntry) error {
	if e.ClientID == "" {
		return ErrClientIDRequired
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO order_journal (
			client_id, venue, symbol, side, order_type, amount_kind, amount,
			limit_price, stop_price, trail_percent, time_in_force, extended_hours,
			take_profit_price, stop_loss_price, strategy_id, venue_order_id,
			status, error_code, error_message, latency_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ClientID, e.Venue, e.Symbol, e.Side, e.OrderType, e.AmountKind, e.Amount,
		e.LimitPrice, e.StopPrice, e.TrailPercent, e.TimeInForce, e.ExtendedHours,
		nullFloat(e.TakeProfitPrice), nullFloat(e.StopLossPrice), e.StrategyID, e.VenueOrderID,
		e.Status, e.ErrorCode, e.ErrorMessage, e.LatencyMs, e.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert journal %s: %w", e.ClientID, err)
	}
	return nil
}

// RecordOutcome stores the venue's answer for a submission.
func (d *Database) RecordOutcome(ctx context.Context, clientID, status, venueOrderID, errCode, errMsg string, latency time.Duration) error {
	if clientID == "" {
		return ErrClientIDRequired
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE order_journal
		SET status = ?, venue_order_id = ?, error_code = ?, error_message = ?,
		    latency_ms = ?, updated_at = ?
		WHERE client_id = ?
	`, status, venueOrderID, errCode, errMsg, latency.Milliseconds(), time.Now().UTC(), clientID)
	if err != nil {
		return fmt.Errorf("update journal %s: %w", clientID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update journal %s: %w", clientID, sql.ErrNoRows)
	}
	return nil
}

const journalColumns = `
	client_id, venue, symbol, side, order_type, amount_kind, amount,
	limit_price, stop_price, trail_percent, time_in_force, extended_hours,
	take_profit_price, stop_loss_price, COALESCE(strategy_id, ''), COALESCE(venue_order_id, ''),
	status, COALESCE(error_code, ''), COALESCE(error_message, ''), latency_ms,
	created_at, updated_at`

// ListJournal returns the newest entries first. An empty symbol lists all.
func (d *Database) ListJournal(ctx context.Context, symbol string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+journalColumns+`
		FROM order_journal
		WHERE (? = '' OR symbol = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	return scanJournal(rows)
}

// ListPending returns submissions still PENDING that were created before
// olderThan, oldest first. These are orders whose outcome was never
// recorded, usually because the process stopped mid-submit.
func (d *Database) ListPending(ctx context.Context, olderThan time.Time) ([]JournalEntry, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+journalColumns+`
		FROM order_journal
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC
	`, StatusPending, olderThan.UTC())
	if err != nil {
		return nil, err
	}
	return scanJournal(rows)
}

// ResolvePending settles a PENDING row. Rows that already have an outcome
// are left alone and false is returned.
func (d *Database) ResolvePending(ctx context.Context, clientID, status, venueOrderID string) (bool, error) {
	if clientID == "" {
		return false, ErrClientIDRequired
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE order_journal
		SET status = ?, venue_order_id = ?, updated_at = ?
		WHERE client_id = ? AND status = ?
	`, status, venueOrderID, time.Now().UTC(), clientID, StatusPending)
	if err != nil {
		return false, fmt.Errorf("resolve journal %s: %w", clientID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanJournal(rows *sql.Rows) ([]JournalEntry, error) {
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e      JournalEntry
			tp, sl sql.NullFloat64
		)
		if err := rows.Scan(
			&e.ClientID, &e.Venue, &e.Symbol, &e.Side, &e.OrderType, &e.AmountKind, &e.Amount,
			&e.LimitPrice, &e.StopPrice, &e.TrailPercent, &e.TimeInForce, &e.ExtendedHours,
			&tp, &sl, &e.StrategyID, &e.VenueOrderID,
			&e.Status, &e.ErrorCode, &e.ErrorMessage, &e.LatencyMs,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if tp.Valid {
			e.TakeProfitPrice = &tp.Float64
		}
		if sl.Valid {
			e.StopLossPrice = &sl.Float64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

// UpdateStatus records a status pushed by the venue after submission.
// Unknown client ids are ignored: the order may predate this journal.
func (d *Database) UpdateStatus(ctx context.Context, clientID, status string) error {
	if clientID == "" {
		return ErrClientIDRequired
	}
	_, err := d.DB.ExecContext(ctx,
		`UPDATE order_journal SET status = ?, updated_at = ? WHERE client_id = ?`,
		status, time.Now().UTC(), clientID)
	if err != nil {
		return fmt.Errorf("update journal status %s: %w", clientID, err)
	}
	return nil
}
