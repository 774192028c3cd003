package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/beat-store/internal/core/domain"
	"github.com/rl1809/beat-store/internal/port"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// mapErr converts MySQL lock-wait timeouts (1205) and deadlocks (1213) to
// ErrContention so the bundle coordinator can retry them.
func mapErr(op string, err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == 1205 || me.Number == 1213) {
		return fmt.Errorf("%s: %w", op, port.ErrContention)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (m *MySQLAdapter) GetBeat(ctx context.Context, beatID int64) (*domain.Beat, error) {
	var b domain.Beat
	err := m.db.QueryRowContext(ctx, `
		SELECT id, title, genre, mood, price, is_exclusive
		FROM beats WHERE id = ?`, beatID,
	).Scan(&b.ID, &b.Title, &b.Genre, &b.Mood, &b.Price, &b.Exclusive)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("query beat", err)
	}
	return &b, nil
}

func (m *MySQLAdapter) GetBundle(ctx context.Context, bundleID int64) (*domain.Bundle, error) {
	var bd domain.Bundle
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, bundle_price, is_active
		FROM bundles WHERE id = ?`, bundleID,
	).Scan(&bd.ID, &bd.Name, &bd.Price, &bd.Active)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("query bundle", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.genre, b.mood, b.price, b.is_exclusive
		FROM beats b
		JOIN bundle_beats bb ON bb.beat_id = b.id
		WHERE bb.bundle_id = ?
		ORDER BY b.id`, bundleID)
	if err != nil {
		return nil, mapErr("query bundle beats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b domain.Beat
		if err := rows.Scan(&b.ID, &b.Title, &b.Genre, &b.Mood, &b.Price, &b.Exclusive); err != nil {
			return nil, mapErr("scan bundle beat", err)
		}
		bd.Beats = append(bd.Beats, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate bundle beats", err)
	}
	return &bd, nil
}

// AcquireHold runs one transaction: the holder's live holds outside
// sameClaim are locked and checked first, then a single conditional UPDATE
// claims the beat. The UPDATE's WHERE clause is the load-bearing
// compare-and-set; two concurrent acquirers on the same beat get exactly
// one winner.
func (m *MySQLAdapter) AcquireHold(ctx context.Context, beatID, holderID int64, sameClaim []int64, now, expiresAt time.Time) (domain.AcquireOutcome, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapErr("begin tx", err)
	}
	defer tx.Rollback()

	query := `SELECT id FROM beats WHERE held_by = ? AND hold_expires_at > ?`
	args := []any{holderID, now}
	if len(sameClaim) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(sameClaim)) + `)`
		for _, id := range sameClaim {
			args = append(args, id)
		}
	}
	query += ` LIMIT 1 FOR UPDATE`

	var otherBeat int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&otherBeat)
	if err == nil {
		return domain.AcquireHolderBusy, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, mapErr("check holder", err)
	}

	// Lock the beat row so the renewal classification cannot race the
	// conditional write below.
	var heldBy sql.NullInt64
	var heldUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT held_by, hold_expires_at FROM beats WHERE id = ? FOR UPDATE`, beatID,
	).Scan(&heldBy, &heldUntil)
	if err != nil {
		return 0, mapErr("lock beat", err)
	}
	renewal := heldBy.Valid && heldBy.Int64 == holderID &&
		heldUntil.Valid && heldUntil.Time.After(now)

	res, err := tx.ExecContext(ctx, `
		UPDATE beats
		SET held_by = ?, held_at = ?, hold_expires_at = ?
		WHERE id = ? AND is_exclusive = 1
		  AND (held_by IS NULL OR held_by = ? OR hold_expires_at <= ?)`,
		holderID, now, expiresAt, beatID, holderID, now,
	)
	if err != nil {
		return 0, mapErr("write hold", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 && !renewal {
		return domain.AcquireHeldByOther, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, mapErr("commit", err)
	}
	if renewal {
		return domain.AcquireRenewed, nil
	}
	return domain.AcquireGranted, nil
}

func (m *MySQLAdapter) ReleaseHold(ctx context.Context, beatID, holderID int64) error {
	query := `
		UPDATE beats SET held_by = NULL, held_at = NULL, hold_expires_at = NULL
		WHERE id = ? AND held_by IS NOT NULL`
	args := []any{beatID}
	if holderID != 0 {
		query += ` AND held_by = ?`
		args = append(args, holderID)
	}

	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return mapErr("release hold", err)
	}
	return nil
}

func (m *MySQLAdapter) ActiveHold(ctx context.Context, holderID int64, now time.Time) (*domain.Hold, error) {
	return m.scanHold(ctx, `
		SELECT id, held_by, held_at, hold_expires_at
		FROM beats WHERE held_by = ? AND hold_expires_at > ?
		LIMIT 1`, holderID, now)
}

func (m *MySQLAdapter) HoldOn(ctx context.Context, beatID int64, now time.Time) (*domain.Hold, error) {
	return m.scanHold(ctx, `
		SELECT id, held_by, held_at, hold_expires_at
		FROM beats WHERE id = ? AND held_by IS NOT NULL AND hold_expires_at > ?`,
		beatID, now)
}

func (m *MySQLAdapter) scanHold(ctx context.Context, query string, args ...any) (*domain.Hold, error) {
	var h domain.Hold
	var heldAt, expiresAt sql.NullTime
	err := m.db.QueryRowContext(ctx, query, args...).Scan(&h.BeatID, &h.HolderID, &heldAt, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("query hold", err)
	}
	h.AcquiredAt = heldAt.Time
	h.ExpiresAt = expiresAt.Time
	return &h, nil
}

func (m *MySQLAdapter) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE beats SET held_by = NULL, held_at = NULL, hold_expires_at = NULL
		WHERE held_by IS NOT NULL AND hold_expires_at <= ?`, now)
	if err != nil {
		return 0, mapErr("release expired", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (m *MySQLAdapter) HasCompletedOrder(ctx context.Context, beatID int64) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM orders WHERE beat_id = ?)`, beatID,
	).Scan(&exists)
	if err != nil {
		return false, mapErr("query beat orders", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) BundleOrderedSince(ctx context.Context, bundleID int64, since time.Time) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM orders WHERE bundle_id = ? AND created_at >= ?)`,
		bundleID, since,
	).Scan(&exists)
	if err != nil {
		return false, mapErr("query bundle orders", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) RecentBundleOrder(ctx context.Context, beatID int64, since time.Time) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM orders o
			JOIN bundles bd ON bd.id = o.bundle_id
			JOIN bundle_beats bb ON bb.bundle_id = bd.id
			WHERE bb.beat_id = ? AND bd.is_active = 1 AND o.created_at >= ?
		)`, beatID, since,
	).Scan(&exists)
	if err != nil {
		return false, mapErr("query recent bundle orders", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	beatID := sql.NullInt64{Int64: order.BeatID, Valid: order.BeatID != 0}
	bundleID := sql.NullInt64{Int64: order.BundleID, Valid: order.BundleID != 0}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO orders (id, transaction_id, buyer_id, beat_id, bundle_id, amount, currency, payer_email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.TransactionID, order.BuyerID, beatID, bundleID,
		order.Amount, order.Currency, order.PayerEmail, order.CreatedAt,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return port.ErrOrderExists
		}
		return mapErr("insert order", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
