// Package history persists conversion records per user.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vozlabs/voz-core/internal/config"
	_ "modernc.org/sqlite"
)

// Record is one completed conversion in a user's history.
type Record struct {
	ID              int64
	Text            string
	CreatedAt       time.Time
	ServiceType     string
	FileName        string
	Audio           []byte
	AudioPath       string
	FromLocalEngine bool
	DurationSeconds float64
}

// Store wraps a SQLite-backed conversion history keyed by user email.
// Retention modes: ephemeral (nothing persisted), session (cleared on every
// open), persistent (pruned by age and count).
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time

	mu     sync.Mutex
	lastID int64
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if _, err := db.ExecContext(ctx, `DELETE FROM conversions`); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset session history: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS conversions (
    id INTEGER PRIMARY KEY,
    user_email TEXT NOT NULL,
    text TEXT NOT NULL,
    service_type TEXT,
    file_name TEXT,
    audio BLOB,
    audio_path TEXT,
    from_local_engine INTEGER NOT NULL DEFAULT 0,
    duration_seconds REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversions_user_created ON conversions(user_email, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nextID derives a record ID from the wall clock, bumped when two appends
// land in the same millisecond so IDs stay strictly increasing.
func (s *Store) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.clock().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// Append stores a record for the user and returns it with its assigned ID
// and timestamp. In ephemeral mode the record gets an ID but nothing is
// written.
func (s *Store) Append(ctx context.Context, userEmail string, rec Record) (Record, error) {
	if rec.ID == 0 {
		rec.ID = s.nextID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return rec, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions(id, user_email, text, service_type, file_name, audio, audio_path, from_local_engine, duration_seconds, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, userEmail, rec.Text, rec.ServiceType, rec.FileName, rec.Audio, rec.AudioPath,
		rec.FromLocalEngine, rec.DurationSeconds, rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("append record: %w", err)
	}
	return rec, nil
}

// List retrieves up to limit records for the user, newest first.
func (s *Store) List(ctx context.Context, userEmail string, limit int) ([]Record, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, service_type, file_name, audio, audio_path, from_local_engine, duration_seconds, created_at
		 FROM conversions WHERE user_email = ? ORDER BY id DESC LIMIT ?`, userEmail, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.Text, &r.ServiceType, &r.FileName, &r.Audio, &r.AudioPath,
			&r.FromLocalEngine, &r.DurationSeconds, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// BackfillAudio attaches audio to a record that was stored before its
// artifact existed, for conversions rendered lazily on first playback.
func (s *Store) BackfillAudio(ctx context.Context, userEmail string, id int64, data []byte, path string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversions SET audio = ?, audio_path = ? WHERE id = ? AND user_email = ?`,
		data, path, id, userEmail)
	if err != nil {
		return fmt.Errorf("backfill audio: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no record %d for user", id)
	}
	return nil
}

// Delete removes one record from the user's history.
func (s *Store) Delete(ctx context.Context, userEmail string, id int64) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversions WHERE id = ? AND user_email = ?`, id, userEmail)
	return err
}

// Clear removes the user's entire history.
func (s *Store) Clear(ctx context.Context, userEmail string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE user_email = ?`, userEmail)
	return err
}

// Prune applies configured retention: drops records older than the
// retention window and trims each store past the record cap, oldest first.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM conversions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM conversions WHERE id IN (
			SELECT id FROM conversions ORDER BY id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
