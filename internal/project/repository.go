package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

// Repository persists the open project.
type Repository interface {
	Load(ctx context.Context) (*types.Project, error)
	Save(ctx context.Context, p *types.Project) error
}

// FileRepository stores the project in a single JSON, YAML or TOML file.
type FileRepository struct {
	path      string
	format    Format
	validator *Validator
}

func NewFileRepository(path string, validator *Validator) (*FileRepository, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return &FileRepository{path: path, format: format, validator: validator}, nil
}

func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) Load(ctx context.Context) (*types.Project, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}

	if r.format == FormatJSON {
		if err := r.validator.ValidateJSON(data); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", r.path, err)
		}
	}

	p, err := Decode(r.format, data)
	if err != nil {
		return nil, err
	}

	if err := r.validator.ValidateProject(p); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", r.path, err)
	}

	return p, nil
}

// Save validates p and replaces the file atomically.
func (r *FileRepository) Save(ctx context.Context, p *types.Project) error {
	if err := r.validator.ValidateProject(p); err != nil {
		return err
	}

	data, err := Encode(r.format, p)
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".project-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write project: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace project: %w", err)
	}
	return nil
}
