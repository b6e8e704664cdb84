package watchstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/web2labs/studio-gateway/internal/json"
)

// ErrNotFound is returned when no watcher has the requested id.
var ErrNotFound = errors.New("watcher not found")

// Store persists watchers in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath places the database next to the openclaw config.
func DefaultPath() string {
	if override := strings.TrimSpace(os.Getenv("OPENCLAW_CONFIG_PATH")); override != "" {
		return filepath.Join(filepath.Dir(override), "watchers.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".openclaw", "watchers.db")
}

// Open opens (creating if needed) the watcher database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchers (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		url TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		preset TEXT NOT NULL DEFAULT 'youtube',
		configuration TEXT NOT NULL DEFAULT '{}',
		poll_interval_minutes INTEGER NOT NULL DEFAULT 30,
		max_duration_minutes INTEGER NOT NULL DEFAULT 120,
		max_daily_uploads INTEGER NOT NULL DEFAULT 5,
		output_dir TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT 1,
		last_checked TIMESTAMP,
		processed_ids TEXT NOT NULL DEFAULT '[]',
		failed_videos TEXT NOT NULL DEFAULT '[]',
		uploads_today INTEGER NOT NULL DEFAULT 0,
		uploads_today_date TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_watchers_enabled ON watchers(enabled);
	`
	_, err := db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem location of the database.
func (s *Store) Path() string {
	return s.path
}

// AddParams describes a watcher to create. Zero numeric values take the
// documented defaults; out-of-range values are clamped.
type AddParams struct {
	URL                 string
	Label               string
	Preset              string
	Configuration       map[string]any
	PollIntervalMinutes int
	MaxDurationMinutes  int
	MaxDailyUploads     int
	OutputDir           string
}

// Add creates and persists a watcher.
func (s *Store) Add(params AddParams) (*Watcher, error) {
	rawURL := strings.TrimSpace(params.URL)
	preset := params.Preset
	if preset == "" {
		preset = "youtube"
	}
	label := params.Label
	if label == "" {
		label = DeriveLabel(rawURL)
	}
	config := params.Configuration
	if config == nil {
		config = map[string]any{}
	}

	w := &Watcher{
		ID:                  generateID(),
		Type:                NormalizeType(rawURL),
		URL:                 rawURL,
		Label:               label,
		Preset:              preset,
		Configuration:       config,
		PollIntervalMinutes: clampInt(params.PollIntervalMinutes, 30, 5, 1440),
		MaxDurationMinutes:  clampInt(params.MaxDurationMinutes, 120, 1, 720),
		MaxDailyUploads:     clampInt(params.MaxDailyUploads, 5, 1, 50),
		OutputDir:           params.OutputDir,
		Enabled:             true,
		ProcessedIDs:        []string{},
		FailedVideos:        []FailedVideo{},
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.insert(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) insert(w *Watcher) error {
	configJSON, err := json.Marshal(w.Configuration)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO watchers (
			id, type, url, label, preset, configuration,
			poll_interval_minutes, max_duration_minutes, max_daily_uploads,
			output_dir, enabled, processed_ids, failed_videos,
			uploads_today, uploads_today_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', '[]', 0, '', ?)`,
		w.ID, w.Type, w.URL, w.Label, w.Preset, string(configJSON),
		w.PollIntervalMinutes, w.MaxDurationMinutes, w.MaxDailyUploads,
		w.OutputDir, w.Enabled, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert watcher: %w", err)
	}
	return nil
}

const selectColumns = `
	id, type, url, label, preset, configuration,
	poll_interval_minutes, max_duration_minutes, max_daily_uploads,
	output_dir, enabled, last_checked, processed_ids, failed_videos,
	uploads_today, uploads_today_date, created_at`

func scanWatcher(row interface{ Scan(...any) error }) (*Watcher, error) {
	var (
		w           Watcher
		configJSON  string
		idsJSON     string
		failedJSON  string
		lastChecked sql.NullTime
	)
	err := row.Scan(
		&w.ID, &w.Type, &w.URL, &w.Label, &w.Preset, &configJSON,
		&w.PollIntervalMinutes, &w.MaxDurationMinutes, &w.MaxDailyUploads,
		&w.OutputDir, &w.Enabled, &lastChecked, &idsJSON, &failedJSON,
		&w.UploadsToday, &w.UploadsTodayDate, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		w.LastChecked = &t
	}
	if err := json.Unmarshal([]byte(configJSON), &w.Configuration); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &w.ProcessedIDs); err != nil {
		return nil, fmt.Errorf("decode processed ids: %w", err)
	}
	if err := json.Unmarshal([]byte(failedJSON), &w.FailedVideos); err != nil {
		return nil, fmt.Errorf("decode failed videos: %w", err)
	}
	if w.ProcessedIDs == nil {
		w.ProcessedIDs = []string{}
	}
	if w.FailedVideos == nil {
		w.FailedVideos = []FailedVideo{}
	}
	return &w, nil
}

// List returns all watchers ordered by creation time.
func (s *Store) List() ([]*Watcher, error) {
	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM watchers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list watchers: %w", err)
	}
	defer rows.Close()

	var watchers []*Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, err
		}
		watchers = append(watchers, w)
	}
	return watchers, rows.Err()
}

// Get returns one watcher, or ErrNotFound.
func (s *Store) Get(id string) (*Watcher, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM watchers WHERE id = ?`, id)
	w, err := scanWatcher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// Remove deletes a watcher; the bool reports whether it existed.
func (s *Store) Remove(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM watchers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove watcher: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// SetEnabled pauses or resumes a watcher.
func (s *Store) SetEnabled(id string, enabled bool) (*Watcher, error) {
	result, err := s.db.Exec(`UPDATE watchers SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return nil, fmt.Errorf("update watcher: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

// Touch records a completed check without new uploads.
func (s *Store) Touch(id string) error {
	_, err := s.db.Exec(`UPDATE watchers SET last_checked = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// MarkProcessed appends videoIDs to the watcher's processed ring, bumps the
// daily upload counter (resetting on date change) and stamps the check time.
func (s *Store) MarkProcessed(id string, videoIDs []string) (*Watcher, error) {
	w, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	combined := append(w.ProcessedIDs, videoIDs...)
	if len(combined) > maxProcessedIDs {
		combined = combined[len(combined)-maxProcessedIDs:]
	}
	w.ProcessedIDs = combined

	day := today()
	if w.UploadsTodayDate != day {
		w.UploadsToday = 0
		w.UploadsTodayDate = day
	}
	w.UploadsToday += len(videoIDs)

	now := time.Now().UTC()
	w.LastChecked = &now

	idsJSON, err := json.Marshal(w.ProcessedIDs)
	if err != nil {
		return nil, fmt.Errorf("encode processed ids: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE watchers
		SET processed_ids = ?, uploads_today = ?, uploads_today_date = ?, last_checked = ?
		WHERE id = ?`,
		string(idsJSON), w.UploadsToday, w.UploadsTodayDate, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update watcher: %w", err)
	}
	return w, nil
}

// MarkFailed records one failed processing attempt for a video.
func (s *Store) MarkFailed(id, videoID, title string) (*Watcher, error) {
	w, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	found := false
	for i := range w.FailedVideos {
		if w.FailedVideos[i].ID == videoID {
			w.FailedVideos[i].Attempts++
			w.FailedVideos[i].LastAttempt = now
			found = true
			break
		}
	}
	if !found {
		if title == "" {
			title = videoID
		}
		w.FailedVideos = append(w.FailedVideos, FailedVideo{
			ID:          videoID,
			Title:       title,
			Attempts:    1,
			LastAttempt: now,
		})
	}
	return w, s.writeFailed(id, w.FailedVideos)
}

// ClearFailed drops a video from the failure list, typically after a
// successful retry.
func (s *Store) ClearFailed(id, videoID string) (*Watcher, error) {
	w, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	kept := w.FailedVideos[:0]
	for _, f := range w.FailedVideos {
		if f.ID != videoID {
			kept = append(kept, f)
		}
	}
	w.FailedVideos = kept
	return w, s.writeFailed(id, w.FailedVideos)
}

func (s *Store) writeFailed(id string, failed []FailedVideo) error {
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encode failed videos: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE watchers SET failed_videos = ? WHERE id = ?`, string(failedJSON), id); err != nil {
		return fmt.Errorf("update watcher: %w", err)
	}
	return nil
}
