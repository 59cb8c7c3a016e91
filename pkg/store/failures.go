package store

import (
	"context"
	"fmt"
	"time"
)

// RecordFailure persists the audit artifact for a workflow that failed after
// at least one forward side effect. Written outside any transaction: the
// record must survive the rollback it describes.
func (s *PostgresStore) RecordFailure(ctx context.Context, rec *FailureRecord) error {
	query := `
		INSERT INTO onboarding_failures
			(external_user_id, external_org_id, email, first_name, last_name,
			 workflow, error_message, compensation_succeeded, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, query,
		nullable(rec.ExternalUserID), nullable(rec.ExternalOrgID),
		rec.Email, rec.FirstName, rec.LastName,
		rec.Workflow, rec.ErrorMessage, rec.CompensationSucceeded, rec.OccurredAt).
		Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// PurgeFailuresBefore deletes failure records older than the cutoff and
// returns how many were removed. Driven by the retention job.
func (s *PostgresStore) PurgeFailuresBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM onboarding_failures WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge failure records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
