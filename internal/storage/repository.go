package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertLiveUpdateSQL = `INSERT INTO live_updates (
        company_id,
        tenant_id,
        event_id,
        event_title,
        category,
        severity,
        sentiment,
        overall,
        environmental,
        social,
        governance,
        risk_level,
        payload,
        received_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    RETURNING id;`

	liveUpdateColumns = `id,
        company_id,
        tenant_id,
        event_id,
        event_title,
        category,
        severity,
        sentiment,
        overall::text,
        environmental::text,
        social::text,
        governance::text,
        risk_level,
        payload,
        received_at`

	listRecentLiveUpdatesSQL = `SELECT ` + liveUpdateColumns + `
    FROM live_updates
    ORDER BY received_at DESC, id DESC
    LIMIT $1;`

	listCompanyLiveUpdatesSQL = `SELECT ` + liveUpdateColumns + `
    FROM live_updates
    WHERE company_id = $1
    ORDER BY received_at DESC, id DESC
    LIMIT $2;`

	countLiveUpdatesSQL = `SELECT COUNT(*) FROM live_updates;`

	deleteLiveUpdatesBeforeSQL = `DELETE FROM live_updates WHERE received_at < $1;`

	upsertLatestScoreSQL = `INSERT INTO latest_scores (
        company_id,
        overall,
        environmental,
        social,
        governance,
        risk_level,
        source,
        recorded_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (company_id) DO UPDATE
    SET
        overall       = EXCLUDED.overall,
        environmental = EXCLUDED.environmental,
        social        = EXCLUDED.social,
        governance    = EXCLUDED.governance,
        risk_level    = EXCLUDED.risk_level,
        source        = EXCLUDED.source,
        recorded_at   = EXCLUDED.recorded_at,
        updated_at    = NOW();`

	listLatestScoresSQL = `SELECT
        company_id,
        overall::text,
        environmental::text,
        social::text,
        governance::text,
        risk_level,
        source,
        recorded_at,
        updated_at
    FROM latest_scores
    ORDER BY company_id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// LiveUpdateStore persists the live feed.
type LiveUpdateStore interface {
	InsertLiveUpdate(ctx context.Context, rec LiveUpdateRecord) (int64, error)
	ListRecentLiveUpdates(ctx context.Context, limit int) ([]LiveUpdateRecord, error)
	ListCompanyLiveUpdates(ctx context.Context, companyID string, limit int) ([]LiveUpdateRecord, error)
	CountLiveUpdates(ctx context.Context) (int64, error)
	DeleteLiveUpdatesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// ScoreStore persists the latest score per company.
type ScoreStore interface {
	UpsertLatestScore(ctx context.Context, rec LatestScoreRecord) error
	ListLatestScores(ctx context.Context) ([]LatestScoreRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to live updates and latest scores.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertLiveUpdate appends a live envelope and returns its row id.
func (s *Store) InsertLiveUpdate(ctx context.Context, rec LiveUpdateRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	var id int64
	if err := pool.QueryRow(ctx, insertLiveUpdateSQL,
		rec.CompanyID,
		rec.TenantID,
		rec.EventID,
		rec.EventTitle,
		rec.Category,
		rec.Severity,
		rec.Sentiment,
		rec.Overall.String(),
		rec.Environmental.String(),
		rec.Social.String(),
		rec.Governance.String(),
		rec.RiskLevel,
		[]byte(rec.Payload),
		receivedAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert live update: %w", err)
	}
	return id, nil
}

// ListRecentLiveUpdates lists the newest live updates first.
func (s *Store) ListRecentLiveUpdates(ctx context.Context, limit int) ([]LiveUpdateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentLiveUpdatesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent live updates: %w", err)
	}
	return collectLiveUpdates(rows, limit)
}

// ListCompanyLiveUpdates lists the newest live updates for one company.
func (s *Store) ListCompanyLiveUpdates(ctx context.Context, companyID string, limit int) ([]LiveUpdateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listCompanyLiveUpdatesSQL, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list company live updates: %w", err)
	}
	return collectLiveUpdates(rows, limit)
}

// CountLiveUpdates counts stored live updates.
func (s *Store) CountLiveUpdates(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, countLiveUpdatesSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count live updates: %w", err)
	}
	return count, nil
}

// DeleteLiveUpdatesBefore prunes the feed history and reports how many rows went.
func (s *Store) DeleteLiveUpdatesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteLiveUpdatesBeforeSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete live updates before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertLatestScore replaces the stored latest score for a company.
func (s *Store) UpsertLatestScore(ctx context.Context, rec LatestScoreRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, upsertLatestScoreSQL,
		rec.CompanyID,
		rec.Overall.String(),
		rec.Environmental.String(),
		rec.Social.String(),
		rec.Governance.String(),
		rec.RiskLevel,
		rec.Source,
		rec.RecordedAt,
	); err != nil {
		return fmt.Errorf("upsert latest score: %w", err)
	}
	return nil
}

// ListLatestScores lists every stored latest score ordered by company.
func (s *Store) ListLatestScores(ctx context.Context) ([]LatestScoreRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listLatestScoresSQL)
	if err != nil {
		return nil, fmt.Errorf("list latest scores: %w", err)
	}
	defer rows.Close()

	scores := make([]LatestScoreRecord, 0)
	for rows.Next() {
		var (
			rec                              LatestScoreRecord
			overall, env, social, governance string
		)
		if err := rows.Scan(
			&rec.CompanyID,
			&overall,
			&env,
			&social,
			&governance,
			&rec.RiskLevel,
			&rec.Source,
			&rec.RecordedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		facets, err := parseFacets(overall, env, social, governance)
		if err != nil {
			return nil, err
		}
		rec.Overall, rec.Environmental, rec.Social, rec.Governance = facets[0], facets[1], facets[2], facets[3]
		scores = append(scores, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return scores, nil
}

func collectLiveUpdates(rows pgx.Rows, limit int) ([]LiveUpdateRecord, error) {
	defer rows.Close()

	if limit < 0 {
		limit = 0
	}
	records := make([]LiveUpdateRecord, 0, limit)
	for rows.Next() {
		rec, err := scanLiveUpdate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanLiveUpdate(rows pgx.Rows) (LiveUpdateRecord, error) {
	var (
		rec                              LiveUpdateRecord
		overall, env, social, governance string
		payload                          []byte
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.CompanyID,
		&rec.TenantID,
		&rec.EventID,
		&rec.EventTitle,
		&rec.Category,
		&rec.Severity,
		&rec.Sentiment,
		&overall,
		&env,
		&social,
		&governance,
		&rec.RiskLevel,
		&payload,
		&rec.ReceivedAt,
	); err != nil {
		return LiveUpdateRecord{}, err
	}

	facets, err := parseFacets(overall, env, social, governance)
	if err != nil {
		return LiveUpdateRecord{}, err
	}
	rec.Overall, rec.Environmental, rec.Social, rec.Governance = facets[0], facets[1], facets[2], facets[3]
	rec.Payload = payload
	return rec, nil
}

func parseFacets(values ...string) ([]decimal.Decimal, error) {
	names := []string{"overall", "environmental", "social", "governance"}
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", names[i], err)
		}
		out[i] = d
	}
	return out, nil
}

var (
	_ LiveUpdateStore = (*Store)(nil)
	_ ScoreStore      = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
