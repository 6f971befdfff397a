// Package repository archives request outcomes in Postgres for offline
// analysis: per-caller reporting, fallback trend queries, and routing
// score audits.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/queue"
)

type OutcomeRepository interface {
	Record(ctx context.Context, rec queue.OutcomeRecord) error
	GetCallerOutcomes(ctx context.Context, caller string, since time.Time) ([]queue.OutcomeRecord, error)
	GetCallerTokenTotal(ctx context.Context, caller string, since time.Time) (int64, error)
	CountByFallbackLevel(ctx context.Context, since time.Time) (map[string]int64, error)
}

type PostgresOutcomeRepository struct {
	db *sql.DB
}

func NewPostgresOutcomeRepository(db *sql.DB) *PostgresOutcomeRepository {
	return &PostgresOutcomeRepository{db: db}
}

func (r *PostgresOutcomeRepository) Record(ctx context.Context, rec queue.OutcomeRecord) error {
	query := `
		INSERT INTO request_outcomes (request_id, caller, intent, provider, model, fallback_level,
		                              allowed, deny_reason, estimated_tokens, actual_tokens,
		                              risk_score, recommendations, routing_score, latency_ms,
		                              success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.Caller,
		string(rec.Intent),
		sql.NullString{String: rec.Provider, Valid: rec.Provider != ""},
		sql.NullString{String: rec.Model, Valid: rec.Model != ""},
		string(rec.FallbackLevel),
		rec.Allowed,
		sql.NullString{String: rec.DenyReason, Valid: rec.DenyReason != ""},
		rec.EstimatedTokens,
		rec.ActualTokens,
		rec.RiskScore,
		pq.Array(rec.Recommendations),
		rec.RoutingScore,
		rec.LatencyMs,
		rec.Success,
		sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}

	return nil
}

func (r *PostgresOutcomeRepository) GetCallerOutcomes(ctx context.Context, caller string, since time.Time) ([]queue.OutcomeRecord, error) {
	query := `
		SELECT request_id, caller, intent, provider, model, fallback_level,
		       allowed, deny_reason, estimated_tokens, actual_tokens,
		       risk_score, recommendations, routing_score, latency_ms,
		       success, error, created_at
		FROM request_outcomes
		WHERE caller = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, caller, since)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var records []queue.OutcomeRecord
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *PostgresOutcomeRepository) GetCallerTokenTotal(ctx context.Context, caller string, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(actual_tokens), 0)
		FROM request_outcomes
		WHERE caller = $1 AND created_at >= $2
	`

	var total int64
	if err := r.db.QueryRowContext(ctx, query, caller, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query token total: %w", err)
	}

	return total, nil
}

func (r *PostgresOutcomeRepository) CountByFallbackLevel(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT fallback_level, COUNT(*)
		FROM request_outcomes
		WHERE created_at >= $1
		GROUP BY fallback_level
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query fallback counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scan fallback count: %w", err)
		}
		counts[level] = count
	}

	return counts, rows.Err()
}

func scanOutcome(rows *sql.Rows) (queue.OutcomeRecord, error) {
	var rec queue.OutcomeRecord
	var intent, fallbackLevel string
	var provider, model, denyReason, errMsg sql.NullString
	var recommendations pq.StringArray

	err := rows.Scan(
		&rec.RequestID,
		&rec.Caller,
		&intent,
		&provider,
		&model,
		&fallbackLevel,
		&rec.Allowed,
		&denyReason,
		&rec.EstimatedTokens,
		&rec.ActualTokens,
		&rec.RiskScore,
		&recommendations,
		&rec.RoutingScore,
		&rec.LatencyMs,
		&rec.Success,
		&errMsg,
		&rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan outcome: %w", err)
	}

	rec.Intent = domain.Intent(intent)
	rec.FallbackLevel = domain.FallbackLevel(fallbackLevel)
	rec.Provider = provider.String
	rec.Model = model.String
	rec.DenyReason = denyReason.String
	rec.Error = errMsg.String
	rec.Recommendations = []string(recommendations)

	return rec, nil
}
