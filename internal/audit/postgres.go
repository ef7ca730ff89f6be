package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/onnwee/panotour/internal/tracing"
)

// appendLockKey serializes appends so seq and previous_hash form one chain.
const appendLockKey = 0x70616e6f // "pano"

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `id, seq, actor_id, scene_id, action, outcome, detail, request_id, previous_hash, created_at`

// Append records an entry, linking it to the newest stored entry.
func (r *PostgresRepository) Append(ctx context.Context, in LogEntry) (e *Entry, err error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ctx, end := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationInsert)
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return nil, fmt.Errorf("failed to lock audit trail: %w", err)
	}

	e = &Entry{
		ID:        uuid.New().String(),
		Seq:       1,
		ActorID:   in.ActorID,
		SceneID:   in.SceneID,
		Action:    in.Action,
		Outcome:   in.Outcome,
		Detail:    in.Detail,
		RequestID: in.RequestID,
	}
	prev, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY seq DESC LIMIT 1`))
	switch {
	case err == nil:
		e.Seq = prev.Seq + 1
		e.PreviousHash = prev.Hash()
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to read audit tail: %w", err)
	}

	// created_at comes from the row so hashes recomputed on read match.
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO audit_log (id, seq, actor_id, scene_id, action, outcome, detail, request_id, previous_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		e.ID, e.Seq, e.ActorID, e.SceneID, e.Action, e.Outcome, e.Detail, e.RequestID, e.PreviousHash,
	).Scan(&e.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// Query returns matching entries, newest first.
func (r *PostgresRepository) Query(ctx context.Context, q Query) (entries []*Entry, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationQuery)
	defer func() { end(err) }()

	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if q.ActorID != "" {
		add("actor_id = ?", q.ActorID)
	}
	if q.SceneID != "" {
		add("scene_id = ?", q.SceneID)
	}
	if q.Action != "" {
		add("action = ?", q.Action)
	}
	if !q.From.IsZero() {
		add("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		add("created_at <= ?", q.To)
	}

	query := `SELECT ` + entryColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit trail: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.Seq, &e.ActorID, &e.SceneID, &e.Action, &e.Outcome,
		&e.Detail, &e.RequestID, &e.PreviousHash, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
