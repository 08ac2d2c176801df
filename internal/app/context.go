package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskmint/internal/config"
	"taskmint/internal/domain"
	"taskmint/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project
// plus config row exist in the DB, seeding defaults when missing. It
// prefers the override, then the single project in the workspace. A
// project that does not exist yet is created pending on the fly.
func ResolveProjectAndConfig(ctx context.Context, projectOverride, actorID string, store *repo.Store) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := store.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}

	if _, err := store.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, store, projectID); err != nil {
			return "", nil, err
		}
	}

	raw, err := store.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := seedConfig(ctx, store, projectID); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg := config.Default(projectID)
		return projectID, cfg, nil
	}
	cfg, err := config.FromYAML(raw)
	if err != nil {
		return "", nil, fmt.Errorf("stored config for %s: %w", projectID, err)
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

func createProject(ctx context.Context, store *repo.Store, projectID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := store.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := &domain.Project{
		ID:        projectID,
		Name:      projectID,
		Status:    "pending",
		CreatedAt: now,
	}
	if err := store.CreateProjectTx(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := store.SaveProjectConfigTx(ctx, tx, projectID, []byte(config.GenerateDefault(projectID)), now); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	return tx.Commit()
}

func seedConfig(ctx context.Context, store *repo.Store, projectID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := store.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := store.SaveProjectConfigTx(ctx, tx, projectID, []byte(config.GenerateDefault(projectID)), now); err != nil {
		return err
	}
	return tx.Commit()
}
