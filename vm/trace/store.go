package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/brace/vm"
)

var log = commonlog.GetLogger("brace.trace")

var (
	// ErrNoRun indicates a step was recorded before BeginRun.
	ErrNoRun = errors.New("trace: no run in progress")
	// ErrSnapshotNotFound indicates the requested digest is not stored.
	ErrSnapshotNotFound = errors.New("trace: snapshot not found")
	// ErrCorruptSnapshot indicates stored text does not match its digest.
	ErrCorruptSnapshot = errors.New("trace: snapshot digest mismatch")
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	program BLOB NOT NULL,
	started INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	digest BLOB PRIMARY KEY,
	data   BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS steps (
	run  INTEGER NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (run, step)
);`

// Run is one recorded program run.
type Run struct {
	ID      int64
	Program [32]byte
	Started time.Time
}

// Store records rewrite steps in a SQLite database. It implements
// vm.Recorder.
type Store struct {
	db  *sql.DB
	run int64
	mu  sync.Mutex
}

// Open opens or creates the trace database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Debugf("opened trace database %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginRun starts a new run for program and returns its id. Later steps are
// recorded against it.
func (s *Store) BeginRun(ctx context.Context, program string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := s.putSnapshot(ctx, program)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (program, started) VALUES (?, ?)",
		digest[:], time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("starting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("starting run: %w", err)
	}
	s.run = id
	log.Infof("trace run %d started", id)
	return id, nil
}

// Record stores one rewrite step of the current run.
func (s *Store) Record(ctx context.Context, rec vm.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == 0 {
		return ErrNoRun
	}
	digest, err := s.putSnapshot(ctx, rec.Text)
	if err != nil {
		return err
	}
	data, err := MarshalStep(&Step{
		Run:         s.run,
		Step:        rec.Step,
		Offset:      rec.Offset,
		Head:        rec.Head.String(),
		Name:        rec.Name,
		Region:      rec.Region,
		Replacement: rec.Replacement,
		Snapshot:    digest,
		ElapsedNs:   rec.Elapsed.Nanoseconds(),
	})
	if err != nil {
		return fmt.Errorf("encoding step %d: %w", rec.Step, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO steps (run, step, data) VALUES (?, ?, ?)",
		s.run, rec.Step, data,
	)
	if err != nil {
		return fmt.Errorf("saving step %d: %w", rec.Step, err)
	}
	return nil
}

func (s *Store) putSnapshot(ctx context.Context, text string) ([32]byte, error) {
	digest := Digest(text)
	data, err := MarshalSnapshot(&Snapshot{Digest: digest, Text: text})
	if err != nil {
		return digest, fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO snapshots (digest, data) VALUES (?, ?)",
		digest[:], data,
	)
	if err != nil {
		return digest, fmt.Errorf("saving snapshot: %w", err)
	}
	return digest, nil
}

// Runs lists recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, program, started FROM runs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			program []byte
			started int64
		)
		if err := rows.Scan(&r.ID, &program, &started); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		copy(r.Program[:], program)
		r.Started = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Steps returns the steps of run in order.
func (s *Store) Steps(ctx context.Context, run int64) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM steps WHERE run = ? ORDER BY step", run)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		step, err := UnmarshalStep(data)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// Snapshot returns the text stored under digest.
func (s *Store) Snapshot(ctx context.Context, digest [32]byte) (string, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE digest = ?", digest[:]).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSnapshotNotFound
		}
		return "", fmt.Errorf("querying snapshot: %w", err)
	}
	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		return "", err
	}
	return snap.Text, nil
}
