package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/jackc/pgx/v5"
)

var ErrProjectNotFound = errors.New("project not found")

// SaveProject inserts or updates a project and returns its new revision.
func (p *PostgresClient) SaveProject(ctx context.Context, project *types.Project) (int, error) {
	definition, err := json.Marshal(project)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal project: %w", err)
	}

	var revision int
	err = p.pool.QueryRow(ctx, `
		INSERT INTO projects (name, definition)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET definition = EXCLUDED.definition,
		    revision = projects.revision + 1,
		    updated_at = now()
		RETURNING revision
	`, project.Name, definition).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to save project: %w", err)
	}

	return revision, nil
}

func (p *PostgresClient) LoadProject(ctx context.Context, name string) (*types.Project, error) {
	var definition []byte
	err := p.pool.QueryRow(ctx, `
		SELECT definition FROM projects WHERE name = $1
	`, name).Scan(&definition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", name, ErrProjectNotFound)
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	var project types.Project
	if err := json.Unmarshal(definition, &project); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project: %w", err)
	}
	return &project, nil
}

func (p *PostgresClient) ListProjects(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, revision, created_at, updated_at
		FROM projects
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ProjectRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan projects: %w", err)
	}
	return records, nil
}

func (p *PostgresClient) DeleteProject(ctx context.Context, name string) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM projects WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", name, ErrProjectNotFound)
	}

	return nil
}

// ProjectRepository binds one project name to the database so it can stand
// in for a project file.
type ProjectRepository struct {
	client *PostgresClient
	name   string
}

func NewProjectRepository(client *PostgresClient, name string) *ProjectRepository {
	return &ProjectRepository{client: client, name: name}
}

func (r *ProjectRepository) Load(ctx context.Context) (*types.Project, error) {
	return r.client.LoadProject(ctx, r.name)
}

func (r *ProjectRepository) Save(ctx context.Context, project *types.Project) error {
	if project.Name != r.name {
		return fmt.Errorf("project %q cannot be saved as %q", project.Name, r.name)
	}
	_, err := r.client.SaveProject(ctx, project)
	return err
}
