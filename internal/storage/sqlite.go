package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/observer"
	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		task TEXT NOT NULL,
		profile_name TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL,
		workspace_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		current_driver TEXT,
		verdict TEXT,
		error TEXT,
		artifact_path TEXT,
		events_path TEXT
	);

	CREATE TABLE IF NOT EXISTS rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		round INTEGER NOT NULL,
		driver TEXT NOT NULL,
		navigator TEXT NOT NULL,
		status TEXT NOT NULL,
		has_feedback INTEGER NOT NULL,
		decision TEXT,
		checkpoints INTEGER NOT NULL DEFAULT 0,
		edit_write_calls INTEGER NOT NULL DEFAULT 0,
		written_bytes INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		UNIQUE(run_id, round)
	);

	CREATE TABLE IF NOT EXISTS journal_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		actor TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_rounds_run ON rounds(run_id);
	CREATE INDEX IF NOT EXISTS idx_journal_run ON journal_entries(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

const runColumns = `id, created_at, completed_at, task, profile_name, strategy, workspace_path, status,
	current_driver, verdict, error, artifact_path, events_path`

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO runs (task, profile_name, strategy, workspace_path, status, current_driver)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.Task, run.ProfileName, run.Strategy, run.WorkspacePath, run.Status, run.CurrentDriver,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var currentDriver, verdict, runErr, artifactPath, eventsPath sql.NullString

	err := row.Scan(
		&run.ID, &run.CreatedAt, &completedAt, &run.Task, &run.ProfileName, &run.Strategy,
		&run.WorkspacePath, &run.Status, &currentDriver, &verdict, &runErr, &artifactPath, &eventsPath,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.CurrentDriver = currentDriver.String
	run.Verdict = verdict.String
	run.Error = runErr.String
	run.ArtifactPath = artifactPath.String
	run.EventsPath = eventsPath.String
	return &run, nil
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return run, err
}

func (s *Storage) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, current_driver = ?, workspace_path = ?,
		 verdict = ?, error = ?, artifact_path = ?, events_path = ? WHERE id = ?`,
		run.CompletedAt, run.Status, run.CurrentDriver, run.WorkspacePath,
		run.Verdict, run.Error, run.ArtifactPath, run.EventsPath, run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveResult stores the rounds and journal of a finished run, replacing any
// previously saved copy.
func (s *Storage) SaveResult(runID int64, result *models.PairRunResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rounds WHERE run_id = ?`, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM journal_entries WHERE run_id = ?`, runID); err != nil {
		return err
	}

	for _, r := range result.Rounds {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode round %d: %w", r.Round, err)
		}
		var decision sql.NullString
		if r.Decision != nil {
			decision = sql.NullString{String: string(r.Decision.Decision), Valid: true}
		}
		_, err = tx.Exec(
			`INSERT INTO rounds (run_id, round, driver, navigator, status, has_feedback, decision,
			 checkpoints, edit_write_calls, written_bytes, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Round, r.Driver, r.Navigator, r.Report.Status, r.Review.HasFeedback, decision,
			r.CheckpointCount, r.EditWriteCallCount, r.EstimatedWrittenBytes, string(data),
		)
		if err != nil {
			return fmt.Errorf("failed to insert round %d: %w", r.Round, err)
		}
	}

	for i, e := range result.Journal {
		_, err := tx.Exec(
			`INSERT INTO journal_entries (run_id, seq, stage, actor, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i+1, e.Stage, e.Actor, e.Content, e.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert journal entry %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

func (s *Storage) GetRounds(runID int64) ([]models.RoundResult, error) {
	rows, err := s.db.Query(`SELECT data FROM rounds WHERE run_id = ? ORDER BY round`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []models.RoundResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r models.RoundResult
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to decode round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (s *Storage) GetJournal(runID int64) ([]models.JournalEntry, error) {
	rows, err := s.db.Query(
		`SELECT stage, actor, content, created_at FROM journal_entries WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var ts time.Time
		if err := rows.Scan(&e.Stage, &e.Actor, &e.Content, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = ts
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Storage) DeleteRun(runID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM journal_entries WHERE run_id = ?`, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM rounds WHERE run_id = ?`, runID); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	return tx.Commit()
}

// DriverTracker is an observer sink that keeps a run's current driver up to
// date while the session is in progress.
type DriverTracker struct {
	store *Storage
	runID int64
}

func (s *Storage) DriverTracker(runID int64) *DriverTracker {
	return &DriverTracker{store: s, runID: runID}
}

func (d *DriverTracker) Write(ev observer.Event) error {
	if ev.Type != observer.EventRoundStart && ev.Type != observer.EventDriverSwap {
		return nil
	}
	if ev.Agent == "" {
		return nil
	}
	_, err := d.store.db.Exec(`UPDATE runs SET current_driver = ? WHERE id = ?`, ev.Agent, d.runID)
	if err != nil {
		return fmt.Errorf("failed to update current driver: %w", err)
	}
	return nil
}
