package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/wakewatch/wakewatch/pkg/domain"
)

// EndpointRepository handles endpoint-related database operations and
// broadcasts list snapshots to Watch subscribers after every mutation.
type EndpointRepository struct {
	db *sqlx.DB

	mu      sync.Mutex
	watched map[chan []domain.Endpoint]struct{}
}

// endpointSQL represents an endpoint row for SQL operations
type endpointSQL struct {
	ID              int64      `db:"id"`
	URL             string     `db:"url"`
	IntervalMinutes int        `db:"interval_minutes"`
	LastPingTime    *time.Time `db:"last_ping_time"`
	Status          string     `db:"status"`
	FailCount       int        `db:"fail_count"`
	LastError       string     `db:"last_error"`
	EmailEnabled    bool       `db:"email_enabled"`
	EmailAddress    string     `db:"email_address"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// NewEndpointRepository creates a new endpoint repository
func NewEndpointRepository(database *sqlx.DB) *EndpointRepository {
	return &EndpointRepository{db: database, watched: make(map[chan []domain.Endpoint]struct{})}
}

// Create inserts a new endpoint. Status is forced to pending and failCount
// to zero regardless of what the caller set.
func (r *EndpointRepository) Create(ctx context.Context, ep *domain.Endpoint) error {
	now := time.Now().UTC()
	sqlEp := &endpointSQL{
		URL:             ep.URL,
		IntervalMinutes: ep.IntervalMinutes,
		Status:          string(domain.StatusPending),
		EmailEnabled:    ep.EmailEnabled,
		EmailAddress:    ep.EmailAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	query := `
		INSERT INTO endpoints (url, interval_minutes, status, email_enabled, email_address, created_at, updated_at)
		VALUES (:url, :interval_minutes, :status, :email_enabled, :email_address, :created_at, :updated_at)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlEp)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	ep.ID = id
	ep.Status = domain.StatusPending
	ep.FailCount = 0
	ep.CreatedAt = now
	ep.UpdatedAt = now

	r.notifyWatchers(ctx)
	return nil
}

// Get retrieves an endpoint by ID
func (r *EndpointRepository) Get(ctx context.Context, id int64) (*domain.Endpoint, error) {
	var sqlEp endpointSQL
	err := r.db.GetContext(ctx, &sqlEp, "SELECT * FROM endpoints WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return toDomainEndpoint(&sqlEp), nil
}

// List retrieves all endpoints, most recently created first
func (r *EndpointRepository) List(ctx context.Context) ([]domain.Endpoint, error) {
	var sqlEps []endpointSQL
	err := r.db.SelectContext(ctx, &sqlEps, "SELECT * FROM endpoints ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}

	eps := make([]domain.Endpoint, len(sqlEps))
	for i, e := range sqlEps {
		eps[i] = *toDomainEndpoint(&e)
	}
	return eps, nil
}

// ListDue retrieves endpoints whose interval has elapsed since the last ping
// attempt, or which were never pinged. Due-ness is derived from the persisted
// timestamps so it survives process restarts.
func (r *EndpointRepository) ListDue(ctx context.Context, now time.Time) ([]domain.Endpoint, error) {
	query := `
		SELECT * FROM endpoints
		WHERE last_ping_time IS NULL
		   OR datetime(last_ping_time, '+' || interval_minutes || ' minutes') <= datetime(?)
		ORDER BY last_ping_time ASC
	`
	var sqlEps []endpointSQL
	err := r.db.SelectContext(ctx, &sqlEps, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due endpoints: %w", err)
	}

	eps := make([]domain.Endpoint, len(sqlEps))
	for i, e := range sqlEps {
		eps[i] = *toDomainEndpoint(&e)
	}
	return eps, nil
}

// Update changes the user-editable fields (url, interval, email settings) and
// bumps updated_at. Status, failCount and lastPingTime belong to UpdateStatus.
func (r *EndpointRepository) Update(ctx context.Context, ep *domain.Endpoint) error {
	query := `
		UPDATE endpoints
		SET url = ?, interval_minutes = ?, email_enabled = ?, email_address = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, ep.URL, ep.IntervalMinutes,
		ep.EmailEnabled, ep.EmailAddress, time.Now().UTC(), ep.ID)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update endpoint rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update endpoint %d: %w", ep.ID, sql.ErrNoRows)
	}

	r.notifyWatchers(ctx)
	return nil
}

// Delete removes an endpoint. A status update for the deleted id arriving
// later from an in-flight ping is discarded by UpdateStatus.
func (r *EndpointRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM endpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}

	r.notifyWatchers(ctx)
	return nil
}

// UpdateStatus records the outcome of a ping attempt: sets status, last ping
// time and last error, resets the consecutive failure counter on success and
// increments it on error. Returns the updated endpoint, or nil when the row
// no longer exists (endpoint deleted while the ping was in flight).
func (r *EndpointRepository) UpdateStatus(ctx context.Context, id int64, status domain.Status, errDetail string, t time.Time) (*domain.Endpoint, error) {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	var updated *domain.Endpoint
	err := retrier.Do(ctx, func() error {
		query := `
			UPDATE endpoints
			SET status = ?,
			    last_ping_time = ?,
			    last_error = ?,
			    fail_count = CASE WHEN ? = 'error' THEN fail_count + 1 ELSE 0 END,
			    updated_at = ?
			WHERE id = ?
		`
		result, execErr := r.db.ExecContext(ctx, query, string(status), t.UTC(), errDetail, string(status), t.UTC(), id)
		if execErr != nil {
			if isLockError(execErr) {
				return execErr // retry
			}
			return &criticalError{err: fmt.Errorf("update endpoint status: %w", execErr)}
		}

		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return &criticalError{err: fmt.Errorf("update status rows affected: %w", raErr)}
		}
		if rows == 0 {
			updated = nil // endpoint deleted mid-flight, drop the result
			return nil
		}

		var sqlEp endpointSQL
		if getErr := r.db.GetContext(ctx, &sqlEp, "SELECT * FROM endpoints WHERE id = ?", id); getErr != nil {
			if errors.Is(getErr, sql.ErrNoRows) {
				updated = nil // deleted between update and read-back
				return nil
			}
			return &criticalError{err: fmt.Errorf("read back endpoint: %w", getErr)}
		}
		updated = toDomainEndpoint(&sqlEp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated != nil {
		r.notifyWatchers(ctx)
	}
	return updated, nil
}

// Watch returns a channel receiving the full endpoint list after every
// mutation, plus an initial snapshot. Slow consumers only see the latest
// snapshot. The channel is closed when ctx is done.
func (r *EndpointRepository) Watch(ctx context.Context) <-chan []domain.Endpoint {
	ch := make(chan []domain.Endpoint, 1)

	// snapshot, send and registration happen under the same lock as
	// notifyWatchers: the buffer is empty at this point so the send cannot
	// block, and no mutation snapshot can interleave with the initial one
	r.mu.Lock()
	if eps, err := r.List(ctx); err == nil {
		ch <- eps
	} else {
		lgr.Printf("[WARN] failed to get initial endpoint snapshot: %v", err)
	}
	r.watched[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watched, ch)
		r.mu.Unlock()
		close(ch)
	}()

	return ch
}

// notifyWatchers pushes a fresh list snapshot to all subscribers
func (r *EndpointRepository) notifyWatchers(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.watched) == 0 {
		return
	}

	eps, err := r.List(ctx)
	if err != nil {
		lgr.Printf("[WARN] failed to get endpoint snapshot for watchers: %v", err)
		return
	}

	for ch := range r.watched {
		// drop the stale snapshot if the consumer hasn't picked it up yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- eps:
		default:
		}
	}
}

// toDomainEndpoint converts endpointSQL to domain.Endpoint
func toDomainEndpoint(sqlEp *endpointSQL) *domain.Endpoint {
	return &domain.Endpoint{
		ID:              sqlEp.ID,
		URL:             sqlEp.URL,
		IntervalMinutes: sqlEp.IntervalMinutes,
		LastPingTime:    sqlEp.LastPingTime,
		Status:          domain.Status(sqlEp.Status),
		FailCount:       sqlEp.FailCount,
		LastError:       sqlEp.LastError,
		EmailEnabled:    sqlEp.EmailEnabled,
		EmailAddress:    sqlEp.EmailAddress,
		CreatedAt:       sqlEp.CreatedAt,
		UpdatedAt:       sqlEp.UpdatedAt,
	}
}

// criticalError wraps an error to signal repeater to stop retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
