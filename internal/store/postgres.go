package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Watches ---

const watchColumns = `id, job_id, incident_id, state, job_status, attempts, error_message, markdown_report,
	started_at, finished_at, created_at, updated_at`

func scanWatch(row pgx.Row) (*models.Watch, error) {
	var w models.Watch
	err := row.Scan(&w.ID, &w.JobID, &w.IncidentID, &w.State, &w.JobStatus, &w.Attempts,
		&w.ErrorMessage, &w.MarkdownReport, &w.StartedAt, &w.FinishedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWatch inserts a new watch. A second active watch for the same job
// violates the partial unique index and yields ErrDuplicateKey.
func (s *PostgresStore) CreateWatch(ctx context.Context, w *models.Watch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watches (id, job_id, incident_id, state, job_status, attempts, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.JobID, w.IncidentID, w.State, w.JobStatus, w.Attempts, w.StartedAt, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create watch: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error) {
	w, err := scanWatch(s.pool.QueryRow(ctx,
		`SELECT `+watchColumns+` FROM watches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watch: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) GetActiveWatchByJobID(ctx context.Context, jobID string) (*models.Watch, error) {
	w, err := scanWatch(s.pool.QueryRow(ctx,
		`SELECT `+watchColumns+` FROM watches WHERE job_id = $1 AND state = 'polling'`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active watch: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) ListWatches(ctx context.Context, filter WatchFilter) ([]*models.Watch, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, filter.State)
		argIdx++
	}
	if filter.JobID != "" {
		conditions = append(conditions, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, filter.JobID)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM watches WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count watches: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM watches WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		watchColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	watches := []*models.Watch{}
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, total, rows.Err()
}

// UpdateWatchProgress records the latest observed job status. Only active
// watches accept progress.
func (s *PostgresStore) UpdateWatchProgress(ctx context.Context, id uuid.UUID, jobStatus string, attempts int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watches SET job_status = $2, attempts = $3, updated_at = NOW()
		 WHERE id = $1 AND state = 'polling'`, id, jobStatus, attempts)
	if err != nil {
		return fmt.Errorf("update watch progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrFinished(ctx, id)
	}
	return nil
}

// FinishWatch moves an active watch to a terminal state. Terminal states are final.
func (s *PostgresStore) FinishWatch(ctx context.Context, id uuid.UUID, state string, opts ...WatchUpdateOption) error {
	if !IsTerminalWatchState(state) {
		return fmt.Errorf("%w: %s is not a terminal state", ErrInvalidTransition, state)
	}

	params := NewWatchUpdate(opts...)

	now := time.Now().UTC()
	query := `UPDATE watches SET state = $2, finished_at = $3, updated_at = $3`
	args := []any{id, state, now}
	argIdx := 4

	if params.JobStatus != nil {
		query += fmt.Sprintf(", job_status = $%d", argIdx)
		args = append(args, *params.JobStatus)
		argIdx++
	}
	if params.Attempts != nil {
		query += fmt.Sprintf(", attempts = $%d", argIdx)
		args = append(args, *params.Attempts)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.MarkdownReport != nil {
		query += fmt.Sprintf(", markdown_report = $%d", argIdx)
		args = append(args, *params.MarkdownReport)
		argIdx++
	}

	// The state guard makes the check-and-set atomic.
	query += " WHERE id = $1 AND state = 'polling'"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish watch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrFinished(ctx, id)
	}
	return nil
}

// CancelActiveWatches finishes every polling watch as cancelled. The agent
// calls it on startup, since pollers do not survive a restart.
func (s *PostgresStore) CancelActiveWatches(ctx context.Context, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watches SET state = 'cancelled', error_message = $1, finished_at = NOW(), updated_at = NOW()
		 WHERE state = 'polling'`, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel active watches: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) missingOrFinished(ctx context.Context, id uuid.UUID) error {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM watches WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get watch state: %w", err)
	}
	return fmt.Errorf("%w: watch is %s", ErrInvalidTransition, state)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
