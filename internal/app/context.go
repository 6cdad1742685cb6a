package app

import (
	"context"
	"errors"
	"fmt"

	"caseline/internal/config"
	"caseline/internal/repo"
)

// ResolveConfig returns the stored config, seeding it when the settings
// table is empty. A caseline.yml in the workspace is preferred as the seed.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		seed = config.Default()
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}
