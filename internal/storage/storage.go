// Package storage provides SQLite-backed persistence for events, snapshots,
// predictions, and tags.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hexlattice/oddslens/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxEvents int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/oddslens/data.db.
func New(maxEvents int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "oddslens", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxEvents: maxEvents}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			slug        TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT,
			image_url   TEXT,
			volume      REAL NOT NULL DEFAULT 0,
			end_date    INTEGER NOT NULL DEFAULT 0,
			active      INTEGER NOT NULL DEFAULT 1,
			closed      INTEGER NOT NULL DEFAULT 0,
			archived    INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id         TEXT PRIMARY KEY,
			event_id   TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			raw        TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_event_created ON snapshots(event_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id              TEXT PRIMARY KEY,
			event_id        TEXT NOT NULL UNIQUE REFERENCES events(id) ON DELETE CASCADE,
			summary         TEXT NOT NULL,
			primary_outcome TEXT NOT NULL,
			confidence      REAL NOT NULL,
			markets_json    TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
			id    TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			slug  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_tags (
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			tag_id   TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (event_id, tag_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertEvent inserts or updates the scalar card fields of an event,
// preserving created_at on update, and reconciles its tag links.
func (s *Storage) UpsertEvent(event *models.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	now := time.Now()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO events
			(id, slug, title, description, image_url, volume, end_date,
			 active, closed, archived, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			slug=excluded.slug, title=excluded.title,
			description=excluded.description, image_url=excluded.image_url,
			volume=excluded.volume, end_date=excluded.end_date,
			active=excluded.active, closed=excluded.closed,
			archived=excluded.archived, updated_at=excluded.updated_at`,
		event.ID, event.Slug, event.Title, event.Description, event.ImageURL,
		event.Volume, event.EndDate.UnixNano(),
		boolToInt(event.Active), boolToInt(event.Closed), boolToInt(event.Archived),
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}

	for _, tag := range event.Tags {
		if tag.ID == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO tags (id, label, slug) VALUES (?,?,?)
			ON CONFLICT(id) DO UPDATE SET label=excluded.label, slug=excluded.slug`,
			tag.ID, tag.Label, tag.Slug,
		); err != nil {
			return fmt.Errorf("failed to upsert tag: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO event_tags (event_id, tag_id) VALUES (?,?)`,
			event.ID, tag.ID,
		); err != nil {
			return fmt.Errorf("failed to link tag: %w", err)
		}
	}

	return tx.Commit()
}

// AddSnapshot stores the raw upstream payload for an event as a new
// snapshot row.
func (s *Storage) AddSnapshot(eventID string, raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("snapshot payload is not valid JSON")
	}
	_, err := s.db.Exec(`
		INSERT INTO snapshots (id, event_id, raw, created_at) VALUES (?,?,?,?)`,
		uuid.NewString(), eventID, string(raw), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot decodes the newest stored payload for one event.
func (s *Storage) LatestSnapshot(eventID string) (*models.Event, error) {
	row := s.db.QueryRow(`
		SELECT raw FROM snapshots WHERE event_id = ?
		ORDER BY created_at DESC LIMIT 1`, eventID)

	var raw string
	if err := row.Scan(&raw); err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var event models.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &event, nil
}

// LatestSnapshots decodes the newest stored payload for each given event.
// Events without a snapshot are simply absent from the result.
func (s *Storage) LatestSnapshots(eventIDs []string) (map[string]*models.Event, error) {
	out := make(map[string]*models.Event, len(eventIDs))
	for _, id := range eventIDs {
		event, err := s.LatestSnapshot(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = event
	}
	return out, nil
}

// GetEvent returns one event's scalar fields and tags.
func (s *Storage) GetEvent(id string) (*models.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	event, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if err := s.attachTags([]*models.Event{event}); err != nil {
		return nil, err
	}
	return event, nil
}

// ListEvents returns stored events with tags attached, newest volume first.
// With activeOnly set, archived, closed, and inactive events are skipped.
func (s *Storage) ListEvents(activeOnly bool) ([]*models.Event, error) {
	query := `SELECT ` + eventCols + ` FROM events`
	if activeOnly {
		query += ` WHERE active = 1 AND closed = 0 AND archived = 0`
	}
	query += ` ORDER BY volume DESC, id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.Event{}
	}
	if err := s.attachTags(events); err != nil {
		return nil, err
	}
	return events, nil
}

// EventIDsByTag returns the IDs of events linked to the given upstream tag.
func (s *Storage) EventIDsByTag(tagID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(`SELECT event_id FROM event_tags WHERE tag_id = ?`, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag links: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tag link: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ReplacePrediction swaps the stored calibration record for an event in one
// transaction. The old row is removed entirely so rationale fields can
// never mix across runs.
func (s *Storage) ReplacePrediction(prediction *models.Prediction) error {
	if err := prediction.Validate(); err != nil {
		return fmt.Errorf("invalid prediction: %w", err)
	}
	marketsJSON, err := json.Marshal(prediction.Markets)
	if err != nil {
		return fmt.Errorf("failed to marshal analyses: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM predictions WHERE event_id = ?`, prediction.EventID); err != nil {
		return fmt.Errorf("failed to delete old prediction: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO predictions
			(id, event_id, summary, primary_outcome, confidence, markets_json, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		prediction.ID, prediction.EventID, prediction.Summary,
		prediction.PrimaryOutcome, prediction.Confidence,
		string(marketsJSON), prediction.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	return tx.Commit()
}

// GetPrediction returns the stored calibration record for one event.
func (s *Storage) GetPrediction(eventID string) (*models.Prediction, error) {
	row := s.db.QueryRow(`
		SELECT id, event_id, summary, primary_outcome, confidence, markets_json, created_at
		FROM predictions WHERE event_id = ?`, eventID)
	p, err := scanPrediction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

// PredictionsByEvent loads all stored predictions keyed by event ID.
func (s *Storage) PredictionsByEvent() (map[string]*models.Prediction, error) {
	rows, err := s.db.Query(`
		SELECT id, event_id, summary, primary_outcome, confidence, markets_json, created_at
		FROM predictions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.Prediction)
	for rows.Next() {
		p, err := scanPrediction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out[p.EventID] = p
	}
	return out, rows.Err()
}

// UpdateEventFlags refreshes the lifecycle flags of one event.
func (s *Storage) UpdateEventFlags(id string, active, closed, archived bool) error {
	res, err := s.db.Exec(`
		UPDATE events SET active=?, closed=?, archived=?, updated_at=? WHERE id=?`,
		boolToInt(active), boolToInt(closed), boolToInt(archived),
		time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEvent removes an event; snapshots, predictions, and tag links
// cascade.
func (s *Storage) DeleteEvent(id string) error {
	if _, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// RotateEvents keeps at most maxEvents newest events by updated_at.
// Cascading deletes remove associated snapshots and predictions.
func (s *Storage) RotateEvents() error {
	_, err := s.db.Exec(`
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY updated_at DESC LIMIT ?
		)`, s.maxEvents)
	if err != nil {
		return fmt.Errorf("failed to rotate events: %w", err)
	}
	return nil
}

// PruneSnapshots keeps at most keepPerEvent newest snapshots per event.
func (s *Storage) PruneSnapshots(keepPerEvent int) error {
	_, err := s.db.Exec(`
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY event_id ORDER BY created_at DESC
				) AS rn FROM snapshots
			) WHERE rn <= ?
		)`, keepPerEvent)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return nil
}

const eventCols = `id, slug, title, description, image_url, volume, end_date,
	active, closed, archived, created_at, updated_at`

func scanEvent(scan func(...any) error) (*models.Event, error) {
	var e models.Event
	var desc, imageURL sql.NullString
	var endDateNano, createdAtNano, updatedAtNano int64
	var active, closed, archived int
	err := scan(
		&e.ID, &e.Slug, &e.Title, &desc, &imageURL, &e.Volume, &endDateNano,
		&active, &closed, &archived, &createdAtNano, &updatedAtNano,
	)
	if err != nil {
		return nil, err
	}
	e.Description = desc.String
	e.ImageURL = imageURL.String
	e.Active = active != 0
	e.Closed = closed != 0
	e.Archived = archived != 0
	if endDateNano != 0 {
		e.EndDate = time.Unix(0, endDateNano)
	}
	e.CreatedAt = time.Unix(0, createdAtNano)
	e.UpdatedAt = time.Unix(0, updatedAtNano)
	return &e, nil
}

func scanPrediction(scan func(...any) error) (*models.Prediction, error) {
	var p models.Prediction
	var marketsJSON string
	var createdAtNano int64
	err := scan(
		&p.ID, &p.EventID, &p.Summary, &p.PrimaryOutcome, &p.Confidence,
		&marketsJSON, &createdAtNano,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(marketsJSON), &p.Markets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analyses: %w", err)
	}
	p.CreatedAt = time.Unix(0, createdAtNano)
	return &p, nil
}

func (s *Storage) attachTags(events []*models.Event) error {
	for _, event := range events {
		rows, err := s.db.Query(`
			SELECT t.id, t.label, t.slug FROM tags t
			JOIN event_tags et ON et.tag_id = t.id
			WHERE et.event_id = ? ORDER BY t.id`, event.ID)
		if err != nil {
			return fmt.Errorf("failed to query tags: %w", err)
		}
		for rows.Next() {
			var tag models.Tag
			if err := rows.Scan(&tag.ID, &tag.Label, &tag.Slug); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan tag: %w", err)
			}
			event.Tags = append(event.Tags, tag)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
