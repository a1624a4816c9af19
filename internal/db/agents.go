package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// AgentConfig is a row in agent_configs: a worker registration plus the
// durable state blob the worker reloads on boot.
type AgentConfig struct {
	AgentName string
	AgentType string
	Config    map[string]interface{}
	State     []byte
	Enabled   bool
	UpdatedAt time.Time
}

// UpsertAgentConfig registers a worker, preserving any previously saved
// state blob.
func (s *Store) UpsertAgentConfig(ctx context.Context, agent *AgentConfig) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if agent.Config == nil {
		agent.Config = map[string]interface{}{}
	}

	query := `
		INSERT INTO agent_configs (agent_name, agent_type, config, enabled, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (agent_name) DO UPDATE SET
			agent_type = EXCLUDED.agent_type,
			config = EXCLUDED.config,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		agent.AgentName,
		agent.AgentType,
		agent.Config,
		agent.Enabled,
	).Scan(&agent.UpdatedAt)

	if err != nil {
		log.Error().
			Err(err).
			Str("agent_name", agent.AgentName).
			Msg("Failed to upsert agent config")
		return fmt.Errorf("failed to upsert agent config: %w", err)
	}

	return nil
}

// SaveAgentState persists a worker's durable state blob.
func (s *Store) SaveAgentState(ctx context.Context, name string, state []byte) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `
		UPDATE agent_configs
		SET state = $2, updated_at = NOW()
		WHERE agent_name = $1
	`

	result, err := s.pool.Exec(ctx, query, name, state)
	if err != nil {
		log.Error().
			Err(err).
			Str("agent_name", name).
			Msg("Failed to save agent state")
		return fmt.Errorf("failed to save agent state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("agent config %s: %w", name, ErrNotFound)
	}

	log.Debug().
		Str("agent_name", name).
		Int("bytes", len(state)).
		Msg("Agent state saved")

	return nil
}

// LoadAgentState returns the worker's last saved state blob. A worker
// that has never saved state gets ErrNotFound and starts fresh.
func (s *Store) LoadAgentState(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `SELECT state FROM agent_configs WHERE agent_name = $1`

	var state []byte
	err := s.pool.QueryRow(ctx, query, name).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent state %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent state: %w", err)
	}

	return state, nil
}
