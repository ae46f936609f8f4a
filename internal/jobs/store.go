package jobs

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.
)

// ErrJobNotFound is returned when no job exists with the requested ID.
var ErrJobNotFound = errors.New("job not found")

// timeLayout keeps fractional seconds so same-second submissions still sort
// FIFO by the stored string.
const timeLayout = "2006-01-02 15:04:05.999999999"

// Store persists job records in SQLite. WAL journal mode, a single
// connection (SQLite allows one writer), embedded schema migrations.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenDatabase opens (or creates) a SQLite database at the given path.
// It configures the connection for WAL journal mode, a 5-second busy timeout,
// and foreign key enforcement. Parent directories are created if missing.
func OpenDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database %q: %w", path, err)
	}

	slog.Info("opened sqlite database", "path", path)
	return db, nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies any unapplied schema migrations to the database.
// Migration SQL files are read from the embedded migrations/ directory and
// named NNN_description.sql; each runs inside its own transaction.
func RunMigrations(db *sql.DB) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	if _, err := db.Exec(createTracker); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	type migrationFile struct {
		version  int
		filename string
	}
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := parseVersion(entry.Name())
		if version <= 0 {
			continue
		}
		files = append(files, migrationFile{version: version, filename: entry.Name()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].version < files[j].version
	})

	for _, mf := range files {
		if applied[mf.version] {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile("migrations/" + mf.filename)
		if err != nil {
			return fmt.Errorf("reading migration file %q: %w", mf.filename, err)
		}

		if err := applyMigration(db, mf.version, string(sqlBytes)); err != nil {
			return fmt.Errorf("applying migration %s: %w", mf.filename, err)
		}

		slog.Info("applied migration", "version", mf.version, "file", mf.filename)
	}

	return nil
}

// parseVersion extracts the version number from a migration filename like
// "001_jobs.sql" → 1.
func parseVersion(filename string) int {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) == 0 {
		return 0
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	return v
}

// appliedVersions returns the set of migration versions already applied.
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration version: %w", err)
		}
		versions[v] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migration versions: %w", err)
	}

	return versions, nil
}

// applyMigration executes a single migration's SQL and records its version,
// all within a single transaction.
func applyMigration(db *sql.DB, version int, sql string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("executing migration SQL: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version) VALUES (?)", version,
	); err != nil {
		return fmt.Errorf("recording migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

// CreateJob inserts a new queued job.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, url, formats, max_posts, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.URL, joinFormats(job.Formats), job.MaxPosts,
		string(StateQueued), job.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// AdmitJob inserts the job only while fewer than depth jobs are queued. The
// count and insert run in one transaction so concurrent submits cannot
// overshoot the depth. Returns how many jobs were queued ahead and whether
// the job was admitted.
func (s *Store) AdmitJob(ctx context.Context, job *Job, depth int) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var queued int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state = ?`, string(StateQueued),
	).Scan(&queued); err != nil {
		return 0, false, fmt.Errorf("counting queued jobs: %w", err)
	}
	if depth > 0 && queued >= depth {
		return queued, false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, url, formats, max_posts, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.URL, joinFormats(job.Formats), job.MaxPosts,
		string(StateQueued), job.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return 0, false, fmt.Errorf("creating job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing admission: %w", err)
	}
	return queued, true, nil
}

const jobColumns = `id, url, formats, max_posts, state, stage, error,
	artifact_path, summary_json, created_at, started_at, finished_at, expires_at`

// GetJob returns the job with the given ID, or ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// ClaimNextQueued atomically moves the oldest queued job to running and
// returns it. Returns nil, nil when the queue is empty.
func (s *Store) ClaimNextQueued(ctx context.Context, now time.Time) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at, id LIMIT 1`,
		string(StateQueued))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting next queued job: %w", err)
	}

	started := now.UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, started_at = ? WHERE id = ? AND state = ?`,
		string(StateRunning), started, job.ID, string(StateQueued),
	); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	job.State = StateRunning
	t := now.UTC()
	job.StartedAt = &t
	return job, nil
}

// SetStage records the running job's current pipeline stage.
func (s *Store) SetStage(ctx context.Context, id, stage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET stage = ? WHERE id = ?`, stage, id)
	if err != nil {
		return fmt.Errorf("setting job stage: %w", err)
	}
	return nil
}

// FinishJob moves a job to its terminal state and stamps the expiry that the
// retention sweep acts on.
func (s *Store) FinishJob(ctx context.Context, id string, state State, jobErr, artifactPath, summaryJSON string, finishedAt, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = ?, artifact_path = ?, summary_json = ?,
			stage = NULL, finished_at = ?, expires_at = ?
		 WHERE id = ?`,
		string(state), nullableString(jobErr), nullableString(artifactPath),
		nullableString(summaryJSON),
		finishedAt.UTC().Format(timeLayout), expiresAt.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("finishing job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job row. The caller is responsible for its artifacts.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CountByState returns how many jobs are in the given state.
func (s *Store) CountByState(ctx context.Context, state State) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state = ?`, string(state)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s jobs: %w", state, err)
	}
	return n, nil
}

// QueuePosition returns the 1-based position of a queued job: one plus the
// number of queued jobs submitted before it.
func (s *Store) QueuePosition(ctx context.Context, job *Job) (int, error) {
	var ahead int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE state = ? AND (created_at < ? OR (created_at = ? AND id < ?))`,
		string(StateQueued),
		job.CreatedAt.UTC().Format(timeLayout),
		job.CreatedAt.UTC().Format(timeLayout),
		job.ID,
	).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("computing queue position: %w", err)
	}
	return ahead + 1, nil
}

// ExpiredJobs lists jobs whose expiry has passed.
func (s *Store) ExpiredJobs(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("querying expired jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning expired job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired jobs: %w", err)
	}
	return out, nil
}

// scanner is a minimal interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job          Job
		formats      string
		state        string
		stage        sql.NullString
		jobErr       sql.NullString
		artifactPath sql.NullString
		summaryJSON  sql.NullString
		createdAt    string
		startedAt    sql.NullString
		finishedAt   sql.NullString
		expiresAt    sql.NullString
	)

	if err := row.Scan(
		&job.ID, &job.URL, &formats, &job.MaxPosts, &state, &stage, &jobErr,
		&artifactPath, &summaryJSON, &createdAt, &startedAt, &finishedAt, &expiresAt,
	); err != nil {
		return nil, err
	}

	job.Formats = splitFormats(formats)
	job.State = State(state)
	job.Stage = stage.String
	job.Error = jobErr.String
	job.ArtifactPath = artifactPath.String
	job.SummaryJSON = summaryJSON.String
	job.CreatedAt = parseTime(createdAt)
	job.StartedAt = parseTimePtr(nullStringToPtr(startedAt))
	job.FinishedAt = parseTimePtr(nullStringToPtr(finishedAt))
	job.ExpiresAt = parseTimePtr(nullStringToPtr(expiresAt))

	return &job, nil
}

// nullableString converts an empty string to nil for nullable TEXT columns.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullStringToPtr converts a sql.NullString to a *string.
func nullStringToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// parseTime attempts to parse a SQLite datetime string in common formats.
// It returns the zero time if parsing fails.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		timeLayout,
		"2006-01-02 15:04:05",
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseTimePtr is like parseTime but returns nil for empty strings.
func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	if t.IsZero() {
		return nil
	}
	return &t
}
