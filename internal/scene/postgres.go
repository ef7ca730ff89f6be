package scene

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/tracing"
)

// SQLSTATE codes mapped to scene errors.
const (
	pgUniqueViolation    = "23505"
	pgInvalidTextValue   = "22P02"
	slugUniqueConstraint = "scenes_slug_unique"
)

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const sceneColumns = `
	id, title, slug, description, image_url, latitude, longitude,
	yaw, pitch, fov, published, next_scene_id, created_by, created_at`

// ListAll returns every scene in ascending creation order.
func (r *PostgresRepository) ListAll(ctx context.Context) (scenes []Scene, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationQuery)
	defer func() { end(err) }()

	return r.querySceneList(ctx, `SELECT `+sceneColumns+` FROM scenes ORDER BY created_at ASC, id ASC`)
}

// ListPublished returns the published scenes in ascending creation order.
func (r *PostgresRepository) ListPublished(ctx context.Context) (scenes []Scene, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationQuery)
	defer func() { end(err) }()

	return r.querySceneList(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE published = TRUE ORDER BY created_at ASC, id ASC`)
}

func (r *PostgresRepository) querySceneList(ctx context.Context, query string, args ...any) ([]Scene, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scenes: %w", err)
	}
	if err := r.attachHotspots(ctx, scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// GetByID retrieves a scene and its hotspots.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (s *Scene, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationQuery)
	defer func() { end(err) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return nil, ErrSceneNotFound
	}
	return r.getOne(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = $1`, id)
}

// GetBySlug retrieves a scene and its hotspots by slug.
func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (s *Scene, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationQuery)
	defer func() { end(err) }()

	return r.getOne(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE slug = $1`, slug)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*Scene, error) {
	s, err := scanScene(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSceneNotFound
	}
	if err != nil {
		return nil, err
	}
	list := []Scene{*s}
	if err := r.attachHotspots(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ExistsBySlug reports whether a scene other than excludeID uses slug.
func (r *PostgresRepository) ExistsBySlug(ctx context.Context, slug, excludeID string) (exists bool, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := `SELECT EXISTS(SELECT 1 FROM scenes WHERE slug = $1 AND ($2 = '' OR id::text <> $2))`
	if err = r.db.QueryRowContext(ctx, query, slug, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// Insert stores a new scene and its hotspots in one transaction.
// A scene whose id already exists is left untouched.
func (r *PostgresRepository) Insert(ctx context.Context, s *Scene) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationInsert)
	defer func() { end(err) }()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var lat, lng sql.NullFloat64
		if s.Coords != nil {
			lat = sql.NullFloat64{Float64: s.Coords.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: s.Coords.Lng, Valid: true}
		}
		query := `
			INSERT INTO scenes (id, title, slug, description, image_url, latitude, longitude,
				yaw, pitch, fov, published, next_scene_id, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, COALESCE($14, NOW()))
			ON CONFLICT (id) DO NOTHING
		`
		res, err := tx.ExecContext(ctx, query,
			s.ID, s.Title, s.Slug, s.Description, s.MediaURL, lat, lng,
			s.Orientation.Yaw, s.Orientation.Pitch, s.Orientation.HFOV,
			s.Published, s.NextSceneID, nullString(s.CreatedBy), s.CreatedAt,
		)
		if err != nil {
			return mapWriteError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			r.logger.Debug("scene insert skipped, id already exists", slog.String("scene_id", s.ID))
			return nil
		}
		return insertHotspots(ctx, tx, s.ID, s.Hotspots)
	})
}

// Update rewrites scene metadata.
func (r *PostgresRepository) Update(ctx context.Context, s *Scene) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	var lat, lng sql.NullFloat64
	if s.Coords != nil {
		lat = sql.NullFloat64{Float64: s.Coords.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: s.Coords.Lng, Valid: true}
	}
	query := `
		UPDATE scenes
		SET title = $2, slug = $3, description = $4, image_url = $5,
			latitude = $6, longitude = $7, yaw = $8, pitch = $9, fov = $10
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		s.ID, s.Title, s.Slug, s.Description, s.MediaURL, lat, lng,
		s.Orientation.Yaw, s.Orientation.Pitch, s.Orientation.HFOV,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

// UpdateEdges writes only the fields present in u.
func (r *PostgresRepository) UpdateEdges(ctx context.Context, id string, u EdgeUpdate) (err error) {
	if u.Empty() {
		return ErrNoChanges
	}
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	sets := make([]string, 0, 2)
	args := []any{id}
	if u.NextSet {
		args = append(args, u.NextSceneID)
		sets = append(sets, fmt.Sprintf("next_scene_id = $%d", len(args)))
	}
	if u.Published != nil {
		args = append(args, *u.Published)
		sets = append(sets, fmt.Sprintf("published = $%d", len(args)))
	}

	query := `UPDATE scenes SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

// ReplaceHotspots deletes and reinserts a scene's hotspots in one transaction.
func (r *PostgresRepository) ReplaceHotspots(ctx context.Context, sceneID string, hotspots []Hotspot) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "hotspots", tracing.DBOperationExec)
	defer func() { end(err) }()

	if _, perr := uuid.Parse(sceneID); perr != nil {
		return ErrSceneNotFound
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM scenes WHERE id = $1 FOR UPDATE`, sceneID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSceneNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock scene: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM hotspots WHERE scene_id = $1`, sceneID); err != nil {
			return fmt.Errorf("failed to clear hotspots: %w", err)
		}
		return insertHotspots(ctx, tx, sceneID, hotspots)
	})
}

// Delete nulls next pointers to id and removes the scene in one transaction.
// Hotspots owned by the scene go with it through ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scenes", tracing.DBOperationDelete)
	defer func() { end(err) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return ErrSceneNotFound
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE scenes SET next_scene_id = NULL WHERE next_scene_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear next pointers: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete scene: %w", err)
		}
		return requireRow(res)
	})
}

func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// attachHotspots loads the hotspots for every scene in one query.
func (r *PostgresRepository) attachHotspots(ctx context.Context, scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	ids := make([]string, len(scenes))
	index := make(map[string]int, len(scenes))
	for i := range scenes {
		ids[i] = scenes[i].ID
		index[scenes[i].ID] = i
		scenes[i].Hotspots = []Hotspot{}
	}

	query := `
		SELECT id, scene_id, type, label, yaw, pitch, target_scene_id,
			description, media_url, display_order, created_at
		FROM hotspots
		WHERE scene_id = ANY($1)
		ORDER BY scene_id, display_order ASC, created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load hotspots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			h                Hotspot
			label, desc, url sql.NullString
			target           sql.NullString
			createdAt        time.Time
		)
		if err := rows.Scan(&h.ID, &h.SceneID, &h.Type, &label, &h.Position.Yaw, &h.Position.Pitch,
			&target, &desc, &url, &h.Order, &createdAt); err != nil {
			return fmt.Errorf("failed to scan hotspot: %w", err)
		}
		h.Label = label.String
		h.Description = desc.String
		h.MediaURL = url.String
		if target.Valid {
			h.TargetSceneID = &target.String
		}
		h.CreatedAt = &createdAt
		if i, ok := index[h.SceneID]; ok {
			scenes[i].Hotspots = append(scenes[i].Hotspots, h)
		}
	}
	return rows.Err()
}

// insertHotspots writes hotspots with display_order following slice order.
func insertHotspots(ctx context.Context, tx *sql.Tx, sceneID string, hotspots []Hotspot) error {
	query := `
		INSERT INTO hotspots (id, scene_id, type, label, yaw, pitch, target_scene_id,
			description, media_url, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i, h := range hotspots {
		id := h.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, query,
			id, sceneID, string(h.Type), nullString(h.Label), h.Position.Yaw, h.Position.Pitch,
			h.TargetSceneID, nullString(h.Description), nullString(h.MediaURL), i+1,
		); err != nil {
			return fmt.Errorf("hotspot %d: %w", i, mapWriteError(err))
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(row rowScanner) (*Scene, error) {
	var (
		s             Scene
		desc, creator sql.NullString
		lat, lng      sql.NullFloat64
		next          sql.NullString
		createdAt     time.Time
	)
	err := row.Scan(&s.ID, &s.Title, &s.Slug, &desc, &s.MediaURL, &lat, &lng,
		&s.Orientation.Yaw, &s.Orientation.Pitch, &s.Orientation.HFOV,
		&s.Published, &next, &creator, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan scene: %w", err)
	}
	s.Description = desc.String
	s.CreatedBy = creator.String
	if lat.Valid && lng.Valid {
		s.Coords = &geometry.LatLng{Lat: lat.Float64, Lng: lng.Float64}
	}
	if next.Valid {
		s.NextSceneID = &next.String
	}
	s.CreatedAt = &createdAt
	return &s, nil
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			if pqErr.Constraint == slugUniqueConstraint {
				return ErrDuplicateSlug
			}
			return fmt.Errorf("%w: %s", ErrDuplicateID, pqErr.Constraint)
		case pgInvalidTextValue:
			// Only the UUID columns take client text that Postgres parses.
			return fmt.Errorf("%w: %s", ErrInvalidID, pqErr.Message)
		}
	}
	return fmt.Errorf("failed to write scene: %w", err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrSceneNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
