// Package services holds small application services layered on the storage
// interfaces.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/internal/engine"
	"github.com/natefox/mnemo/internal/storage"
)

// tuningSettingKey is the settings-table key holding the retrieval tuning.
const tuningSettingKey = "retrieval_tuning"

// TuningService persists retrieval tuning parameters in the settings store
// so operators can adjust ranking behavior without a rebuild.
type TuningService struct {
	store  storage.SettingsStore
	logger zerolog.Logger
}

// NewTuningService creates a tuning service backed by store.
func NewTuningService(store storage.SettingsStore, logger zerolog.Logger) (*TuningService, error) {
	if store == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	return &TuningService{
		store:  store,
		logger: logger.With().Str("component", "tuning").Logger(),
	}, nil
}

// Load returns the persisted tuning merged over the defaults, so values
// saved by older versions pick up defaults for fields they never knew
// about. On first run the defaults are persisted and returned.
func (t *TuningService) Load(ctx context.Context) (engine.RetrievalTuning, error) {
	defaults := engine.DefaultRetrievalTuning()

	raw, err := t.store.GetSetting(ctx, tuningSettingKey)
	if errors.Is(err, storage.ErrNotFound) {
		if err := t.Save(ctx, defaults); err != nil {
			return defaults, fmt.Errorf("failed to persist default tuning: %w", err)
		}
		t.logger.Info().Msg("persisted default retrieval tuning")
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("failed to load retrieval tuning: %w", err)
	}

	tuning := defaults
	if err := json.Unmarshal([]byte(raw), &tuning); err != nil {
		t.logger.Warn().Err(err).Msg("stored retrieval tuning is malformed, using defaults")
		return defaults, nil
	}
	if err := tuning.Validate(); err != nil {
		t.logger.Warn().Err(err).Msg("stored retrieval tuning is invalid, using defaults")
		return defaults, nil
	}
	return tuning, nil
}

// Save validates and persists the tuning.
func (t *TuningService) Save(ctx context.Context, tuning engine.RetrievalTuning) error {
	if err := tuning.Validate(); err != nil {
		return fmt.Errorf("invalid retrieval tuning: %w", err)
	}

	data, err := json.Marshal(tuning)
	if err != nil {
		return fmt.Errorf("failed to marshal retrieval tuning: %w", err)
	}
	if err := t.store.SetSetting(ctx, tuningSettingKey, string(data)); err != nil {
		return fmt.Errorf("failed to save retrieval tuning: %w", err)
	}

	t.logger.Debug().
		Int("rrf_k", tuning.RRFK).
		Float64("text_weight", tuning.TextWeight).
		Float64("vector_weight", tuning.VectorWeight).
		Int("candidates_per_source", tuning.CandidatesPerSource).
		Msg("retrieval tuning saved")
	return nil
}
