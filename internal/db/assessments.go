package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RiskAssessmentRecord is a row in risk_assessments: the verdict the
// risk worker reached for one trade intent.
type RiskAssessmentRecord struct {
	ID              uuid.UUID
	SignalID        *string
	Symbol          string
	RiskScore       float64
	PositionSize    float64
	VaREstimate     float64
	MaxLoss         float64
	Approved        bool
	RejectionReason *string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
}

// InsertRiskAssessment persists a risk verdict. Each intent gets one
// row: redelivered intents collapse on the signal_id unique index, the
// first insert wins and later attempts return false so callers skip
// re-publishing.
func (s *Store) InsertRiskAssessment(ctx context.Context, assessment *RiskAssessmentRecord) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if assessment.ID == uuid.Nil {
		assessment.ID = uuid.New()
	}
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO risk_assessments (
			id, signal_id, symbol, risk_score, position_size, var_estimate,
			max_loss, approved, rejection_reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (signal_id) WHERE signal_id IS NOT NULL DO NOTHING
	`

	result, err := s.pool.Exec(ctx, query,
		assessment.ID,
		assessment.SignalID,
		assessment.Symbol,
		assessment.RiskScore,
		assessment.PositionSize,
		assessment.VaREstimate,
		assessment.MaxLoss,
		assessment.Approved,
		assessment.RejectionReason,
		assessment.Metadata,
		assessment.CreatedAt,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", assessment.Symbol).
			Bool("approved", assessment.Approved).
			Msg("Failed to insert risk assessment")
		return false, fmt.Errorf("failed to insert risk assessment: %w", err)
	}

	inserted := result.RowsAffected() == 1
	if !inserted {
		log.Debug().
			Str("symbol", assessment.Symbol).
			Msg("Intent already assessed, skipping")
	}

	return inserted, nil
}
