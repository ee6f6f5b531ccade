package project

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the project file when it changes on disk.
type Watcher struct {
	repo     *FileRepository
	onReload func(*types.Project)
	logger   *zap.Logger
	debounce time.Duration
}

func NewWatcher(repo *FileRepository, onReload func(*types.Project), logger *zap.Logger) *Watcher {
	return &Watcher{
		repo:     repo,
		onReload: onReload,
		logger:   logger,
		debounce: reloadDebounce,
	}
}

// Run watches until ctx is cancelled. Editors often replace files instead of
// writing them, so the parent directory is watched and events are filtered
// by name.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(w.repo.Path())
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Project watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	p, err := w.repo.Load(ctx)
	if err != nil {
		// keep the last good project; the file may be mid-edit
		w.logger.Warn("Project reload failed", zap.String("path", w.repo.Path()), zap.Error(err))
		return
	}
	w.logger.Info("Project reloaded",
		zap.String("name", p.Name),
		zap.Int("symbols", len(p.Symbols)))
	w.onReload(p)
}
