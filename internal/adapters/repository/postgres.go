package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/metrics"
)

// Schema creates the tables PostgresStore needs. Status and created_at live
// in columns and win over the copies inside body.
const Schema = `
CREATE TABLE IF NOT EXISTS trend_signatures (
	trend_id          TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	viral_velocity    DOUBLE PRECISION NOT NULL,
	predicted_peak_at TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	body              JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS trend_signatures_active_idx
	ON trend_signatures (status, viral_velocity DESC, trend_id);

CREATE TABLE IF NOT EXISTS opportunities (
	opportunity_id TEXT PRIMARY KEY,
	trend_id       TEXT NOT NULL REFERENCES trend_signatures (trend_id),
	status         TEXT NOT NULL,
	version        BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	body           JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS opportunities_trend_idx ON opportunities (trend_id, created_at);
`

// PostgresStore persists to PostgreSQL through sqlx.
type PostgresStore struct {
	db   *sqlx.DB
	opts options
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects with the lib/pq driver.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wraps an open database. Close closes it.
func NewPostgresStore(db *sqlx.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: newOptions(opts)}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type signatureRow struct {
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	Body      []byte    `db:"body"`
}

func (r signatureRow) decode() (model.TrendSignature, error) {
	var sig model.TrendSignature
	if err := json.Unmarshal(r.Body, &sig); err != nil {
		return model.TrendSignature{}, fmt.Errorf("decode signature: %w", err)
	}
	sig.Status = model.SignatureStatus(r.Status)
	sig.CreatedAt = r.CreatedAt.UTC()
	return sig, nil
}

type opportunityRow struct {
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	Body      []byte    `db:"body"`
}

func (r opportunityRow) decode() (model.Opportunity, error) {
	var opp model.Opportunity
	if err := json.Unmarshal(r.Body, &opp); err != nil {
		return model.Opportunity{}, fmt.Errorf("decode opportunity: %w", err)
	}
	opp.Version = r.Version
	opp.CreatedAt = r.CreatedAt.UTC()
	return opp, nil
}

// UpsertSignature implements Store. On conflict the stored status and
// created_at are left alone, which is what keeps re-scans idempotent.
func (s *PostgresStore) UpsertSignature(ctx context.Context, sig model.TrendSignature) (model.TrendSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	body, err := json.Marshal(sig)
	if err != nil {
		return model.TrendSignature{}, fmt.Errorf("marshal signature: %w", err)
	}

	query := `
		INSERT INTO trend_signatures
		(trend_id, status, viral_velocity, predicted_peak_at, created_at, updated_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trend_id) DO UPDATE SET
			viral_velocity = EXCLUDED.viral_velocity,
			predicted_peak_at = EXCLUDED.predicted_peak_at,
			updated_at = EXCLUDED.updated_at,
			body = EXCLUDED.body
		RETURNING status, created_at, body`

	var row signatureRow
	err = s.db.QueryRowxContext(ctx, query,
		sig.TrendID, string(sig.Status), sig.ViralVelocity, sig.PredictedPeakAt,
		sig.CreatedAt, sig.UpdatedAt, body).StructScan(&row)
	if err != nil {
		return model.TrendSignature{}, fmt.Errorf("upsert signature %s: %w", sig.TrendID, err)
	}
	return row.decode()
}

// GetSignature implements Store.
func (s *PostgresStore) GetSignature(ctx context.Context, trendID string) (model.TrendSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	var row signatureRow
	err := s.db.QueryRowxContext(ctx,
		`SELECT status, created_at, body FROM trend_signatures WHERE trend_id = $1`, trendID).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrendSignature{}, notFound(EntitySignature, trendID)
	}
	if err != nil {
		return model.TrendSignature{}, fmt.Errorf("get signature %s: %w", trendID, err)
	}
	return row.decode()
}

// ListActiveSignatures implements Store.
func (s *PostgresStore) ListActiveSignatures(ctx context.Context, now time.Time) ([]model.TrendSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	query := `
		SELECT status, created_at, body
		FROM trend_signatures
		WHERE status = $1 AND predicted_peak_at > $2
		ORDER BY viral_velocity DESC, trend_id ASC`

	var rows []signatureRow
	if err := s.db.SelectContext(ctx, &rows, query, string(model.SignatureActive), now); err != nil {
		return nil, fmt.Errorf("list active signatures: %w", err)
	}
	out := make([]model.TrendSignature, 0, len(rows))
	for _, r := range rows {
		sig, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// TransitionSignature implements Store.
func (s *PostgresStore) TransitionSignature(ctx context.Context, trendID string, from, to model.SignatureStatus) (model.TrendSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	if !from.CanTransitionTo(to) {
		metrics.RecordPersistenceConflict(EntitySignature)
		return model.TrendSignature{}, conflict(EntitySignature, trendID, "cannot move from %s to %s", from, to)
	}

	query := `
		UPDATE trend_signatures
		SET status = $3, updated_at = $4
		WHERE trend_id = $1 AND status = $2
		RETURNING status, created_at, body`

	var row signatureRow
	err := s.db.QueryRowxContext(ctx, query, trendID, string(from), string(to), s.opts.now().UTC()).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetSignature(ctx, trendID)
		if getErr != nil {
			return model.TrendSignature{}, getErr
		}
		metrics.RecordPersistenceConflict(EntitySignature)
		return model.TrendSignature{}, conflict(EntitySignature, trendID, "status is %s, expected %s", current.Status, from)
	}
	if err != nil {
		return model.TrendSignature{}, fmt.Errorf("transition signature %s: %w", trendID, err)
	}
	return row.decode()
}

// ExpireSignatures implements Store.
func (s *PostgresStore) ExpireSignatures(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	query := `
		UPDATE trend_signatures
		SET status = $1, updated_at = $3
		WHERE status = $2 AND predicted_peak_at <= $3
		RETURNING trend_id`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query,
		string(model.SignatureExpired), string(model.SignatureActive), now.UTC()); err != nil {
		return nil, fmt.Errorf("expire signatures: %w", err)
	}
	return ids, nil
}

// UpsertOpportunity implements Store. The row is locked for the duration of
// the version check.
func (s *PostgresStore) UpsertOpportunity(ctx context.Context, opp model.Opportunity) (model.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored *model.Opportunity
	var row opportunityRow
	err = tx.QueryRowxContext(ctx,
		`SELECT version, created_at, body FROM opportunities WHERE opportunity_id = $1 FOR UPDATE`,
		opp.OpportunityID).StructScan(&row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return model.Opportunity{}, fmt.Errorf("lock opportunity %s: %w", opp.OpportunityID, err)
	default:
		cur, err := row.decode()
		if err != nil {
			return model.Opportunity{}, err
		}
		stored = &cur
	}

	if err := checkOpportunityWrite(stored, opp); err != nil {
		metrics.RecordPersistenceConflict(EntityOpportunity)
		return model.Opportunity{}, err
	}
	next := nextOpportunity(stored, opp)

	body, err := json.Marshal(next)
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("marshal opportunity: %w", err)
	}

	query := `
		INSERT INTO opportunities
		(opportunity_id, trend_id, status, version, created_at, updated_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (opportunity_id) DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			body = EXCLUDED.body`

	if _, err := tx.ExecContext(ctx, query,
		next.OpportunityID, next.TrendID, string(next.Status), next.Version,
		next.CreatedAt, next.UpdatedAt, body); err != nil {
		return model.Opportunity{}, fmt.Errorf("upsert opportunity %s: %w", opp.OpportunityID, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Opportunity{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// GetOpportunity implements Store.
func (s *PostgresStore) GetOpportunity(ctx context.Context, opportunityID string) (model.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	var row opportunityRow
	err := s.db.QueryRowxContext(ctx,
		`SELECT version, created_at, body FROM opportunities WHERE opportunity_id = $1`, opportunityID).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Opportunity{}, notFound(EntityOpportunity, opportunityID)
	}
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("get opportunity %s: %w", opportunityID, err)
	}
	return row.decode()
}

// ListOpportunities implements Store.
func (s *PostgresStore) ListOpportunities(ctx context.Context, trendID string) ([]model.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	var rows []opportunityRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT version, created_at, body FROM opportunities WHERE trend_id = $1 ORDER BY created_at, opportunity_id`,
		trendID); err != nil {
		return nil, fmt.Errorf("list opportunities %s: %w", trendID, err)
	}
	out := make([]model.Opportunity, 0, len(rows))
	for _, r := range rows {
		opp, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, opp)
	}
	return out, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
