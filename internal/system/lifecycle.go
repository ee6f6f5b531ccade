package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/api/rest"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/api/websocket"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/auth"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/cache"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/devices"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/interfaces"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/monitor"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/project"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/storage"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/streaming"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// LifecycleManager wires the workspace together and owns its servers.
type LifecycleManager struct {
	config    *config.Config
	logger    *zap.Logger
	validator *project.Validator
	repo      project.Repository
	fileRepo  *project.FileRepository
	storage   *storage.PostgresClient

	workspace     *project.Workspace
	registry      *monitor.Registry
	table         *watch.Table
	deviceManager *devices.Manager
	cache         *cache.ValueCache
	streamer      *streaming.Streamer
	authService   *auth.AuthService
	wsHub         *websocket.Hub

	restServer *rest.Server
	grpcServer *grpc.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager opens the project store and builds every component.
// Nothing listens until Start.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	validator, err := project.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create project validator: %w", err)
	}

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		validator:    validator,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	if err := lm.openStore(ctx); err != nil {
		return nil, err
	}

	p, err := lm.repo.Load(ctx)
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, storage.ErrProjectNotFound):
		logger.Warn("Project not found, starting with an empty one",
			zap.String("name", cfg.Project.Name),
			zap.String("store", cfg.Project.Store))
		p = &types.Project{Name: cfg.Project.Name}
	case err != nil:
		lm.closeStore()
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	lm.workspace = project.NewWorkspace(p)
	lm.registry = monitor.NewRegistry()
	lm.table = watch.NewTable(lm.registry, lm.workspace.Resolver(), logger)
	if err := lm.table.SetEntries(p.Watch); err != nil {
		lm.closeStore()
		return nil, fmt.Errorf("invalid watch list: %w", err)
	}

	dialer, err := devices.NewDialer(cfg.Device, logger)
	if err != nil {
		lm.closeStore()
		return nil, err
	}
	lm.deviceManager = devices.NewManager(dialer, lm.registry, lm.table, monitor.Options{
		Interval:    cfg.Monitor.PollInterval,
		ReadTimeout: cfg.Monitor.ReadTimeout,
		MaxReadSize: cfg.Monitor.MaxReadSize,
		Concurrency: cfg.Monitor.Concurrency,
	}, logger)

	if cfg.Cache.Enabled {
		vc, err := cache.Open(ctx, cfg.Cache.Path, logger)
		if err != nil {
			// the cache only saves a blank screen after restarts
			logger.Warn("Value cache unavailable", zap.Error(err))
		} else {
			lm.cache = vc
			lm.restoreCachedValues(ctx)
		}
	}

	lm.streamer = streaming.NewStreamer()
	lm.authService = auth.NewAuthService(cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, lm.authService)
	lm.wsHub.SetSnapshotProvider(tableSnapshot{lm.table})

	lm.table.OnUpdate(lm.onValue)
	lm.deviceManager.OnEvent(lm.onDeviceEvent)
	lm.workspace.OnChange(lm.onProjectChange)

	return lm, nil
}

func (lm *LifecycleManager) openStore(ctx context.Context) error {
	switch lm.config.Project.Store {
	case "postgres":
		client, err := storage.NewPostgresClient(ctx, lm.config.Database)
		if err != nil {
			return err
		}
		if err := client.EnsureSchema(ctx); err != nil {
			client.Close()
			return err
		}
		lm.storage = client
		lm.repo = storage.NewProjectRepository(client, lm.config.Project.Name)
	default:
		repo, err := project.NewFileRepository(lm.config.Project.Path, lm.validator)
		if err != nil {
			return err
		}
		lm.fileRepo = repo
		lm.repo = repo
	}
	return nil
}

func (lm *LifecycleManager) closeStore() {
	if lm.storage != nil {
		lm.storage.Close()
	}
}

func (lm *LifecycleManager) restoreCachedValues(ctx context.Context) {
	if lm.cache == nil {
		return
	}
	values, err := lm.cache.Load(ctx, lm.workspace.Name())
	if err != nil {
		lm.logger.Warn("Failed to read value cache", zap.Error(err))
		return
	}
	if n := lm.table.Restore(values); n > 0 {
		lm.logger.Info("Restored cached watch values", zap.Int("count", n))
	}
}

type tableSnapshot struct {
	table *watch.Table
}

func (s tableSnapshot) Snapshot() any {
	return s.table.Entries()
}

// onValue fans one value change out to every consumer. It runs inside the
// poll cycle, so nothing here may block.
func (lm *LifecycleManager) onValue(e watch.Entry) {
	lm.wsHub.Broadcast(websocket.NewWatchValueMessage(e.Name, e))
	lm.streamer.Broadcast(e)
	if lm.cache != nil && e.Value != watch.Placeholder {
		lm.cache.Put(lm.workspace.Name(), e.Name, e.Value, e.UpdatedAt)
	}
}

func (lm *LifecycleManager) onDeviceEvent(e devices.Event) {
	switch e.Type {
	case devices.EventConnected:
		// devices that report their layout win over an empty project layout
		if e.Info != nil && len(e.Info.Offsets) > 0 && len(lm.workspace.Project().Offsets) == 0 {
			if err := lm.workspace.SetOffsets(e.Info.Offsets); err != nil {
				lm.logger.Warn("Device reported invalid offsets", zap.Error(err))
			}
		}
		lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeDeviceConnected, e))
	case devices.EventDisconnected:
		lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeDeviceDisconnected, e))
	case devices.EventMonitorState:
		lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeMonitorState, e))
	}
}

func (lm *LifecycleManager) onProjectChange(c project.Change) {
	switch c.Kind {
	case project.ChangeRenamed:
		lm.table.FollowSymbolRename(c.OldName, c.NewName, lm.workspace.Resolver())
	case project.ChangeReplaced:
		lm.table.SetResolver(lm.workspace.Resolver())
		if !reflect.DeepEqual(normalizeSpecs(c.Project.Watch), normalizeSpecs(lm.table.Specs())) {
			if err := lm.table.SetEntries(c.Project.Watch); err != nil {
				lm.logger.Warn("Project watch list rejected", zap.Error(err))
			}
			lm.restoreCachedValues(context.Background())
		}
	case project.ChangeOffsets:
		lm.table.SetResolver(lm.workspace.Resolver())
	}

	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeProjectChanged, websocket.ProjectChangedData{
		Kind:    string(c.Kind),
		Project: c.Project.Name,
		OldName: c.OldName,
		NewName: c.NewName,
	}))
}

func normalizeSpecs(specs []types.WatchSpec) []types.WatchSpec {
	if len(specs) == 0 {
		return nil
	}
	out := make([]types.WatchSpec, len(specs))
	for i, s := range specs {
		out[i] = types.WatchSpec{Name: s.Name, Type: s.Type.Canonical()}
	}
	return out
}

// Start starts the servers and background workers.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenPLC Workspace",
		zap.String("project", lm.workspace.Name()),
		zap.String("transport", lm.config.Device.Transport))

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.goBackground(func() { lm.wsHub.Run(ctx) })
	if lm.cache != nil {
		lm.goBackground(func() { lm.cache.Run(ctx, lm.config.Cache.FlushInterval) })
	}
	if lm.fileRepo != nil && lm.config.Project.Watch {
		watcher := project.NewWatcher(lm.fileRepo, lm.onReload, lm.logger)
		lm.goBackground(func() {
			if err := watcher.Run(ctx); err != nil {
				lm.logger.Warn("Project watcher stopped", zap.Error(err))
			}
		})
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if lm.config.Device.AutoConnect {
		connectCtx, cancelConnect := context.WithTimeout(ctx, lm.config.Device.Timeout+time.Second)
		if err := lm.deviceManager.Connect(connectCtx); err != nil {
			lm.logger.Warn("Auto-connect failed", zap.Error(err))
		}
		cancelConnect()
		lm.deviceManager.SetMonitoring(true)
	}

	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))
	return nil
}

func (lm *LifecycleManager) goBackground(fn func()) {
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		fn()
	}()
}

func (lm *LifecycleManager) onReload(p *types.Project) {
	current := lm.workspace.Project()
	current.Watch = lm.table.Specs()
	if reflect.DeepEqual(normalizeProject(p), normalizeProject(current)) {
		// our own save
		return
	}
	lm.workspace.Replace(p)
}

func normalizeProject(p *types.Project) *types.Project {
	out := p.Clone()
	out.Watch = normalizeSpecs(out.Watch)
	if len(out.Symbols) == 0 {
		out.Symbols = nil
	}
	if len(out.Offsets) == 0 {
		out.Offsets = nil
	}
	return out
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer(streaming.AuthOptions(lm.authService)...)
	streaming.RegisterMonitorServer(lm.grpcServer, streaming.NewMonitorService(lm.streamer, lm.table, lm.logger))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "Monitor"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished, e.g. after POST /system/shutdown.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.deviceManager.StopAll(ctx); err != nil {
			errChan <- fmt.Errorf("device manager stop failed: %w", err)
		}
	}()

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		// background workers flush the cache on the way out
		if lm.cancel != nil {
			lm.cancel()
		}
		lm.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	close(errChan)
	for e := range errChan {
		err = errors.Join(err, e)
	}

	if lm.cache != nil {
		// Run is not started for local watch sessions
		if ferr := lm.cache.Flush(context.Background()); ferr != nil {
			lm.logger.Warn("Failed to flush value cache", zap.Error(ferr))
		}
		if cerr := lm.cache.Close(); cerr != nil {
			lm.logger.Warn("Failed to close value cache", zap.Error(cerr))
		}
	}
	lm.closeStore()
	return err
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	previous := lm.currentState
	if err := ValidateTransition(previous, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, StateChange{
		State:    state.String(),
		Previous: previous.String(),
	}))
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	previous := lm.currentState
	lm.currentState = StateError
	lm.stateMu.Unlock()

	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, StateChange{
		State:    StateError.String(),
		Previous: previous.String(),
		Error:    err.Error(),
	}))
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:        lm.State().String(),
		Project:      lm.workspace.Name(),
		WatchEntries: lm.table.Len(),
		Device:       lm.deviceManager.Status(),
		Clients:      lm.wsHub.GetClientCount() + lm.streamer.Subscribers(),

		StreamDropped: lm.streamer.Dropped(),
	}
}

// ReplaceProject validates p and makes it the open project.
func (lm *LifecycleManager) ReplaceProject(p *types.Project) error {
	if err := lm.validator.ValidateProject(p); err != nil {
		return err
	}
	lm.workspace.Replace(p)
	return nil
}

// SaveProject writes the open project, including the current watch list.
func (lm *LifecycleManager) SaveProject(ctx context.Context) error {
	lm.workspace.SetWatch(lm.table.Specs())
	p := lm.workspace.Project()
	if err := lm.validator.ValidateProject(p); err != nil {
		return err
	}
	if err := lm.repo.Save(ctx, p); err != nil {
		return err
	}
	lm.logger.Info("Project saved", zap.String("name", p.Name))
	return nil
}

// ReloadProject discards unsaved changes and reads the project again.
func (lm *LifecycleManager) ReloadProject(ctx context.Context) error {
	p, err := lm.repo.Load(ctx)
	if err != nil {
		return err
	}
	lm.workspace.Replace(p)
	return nil
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Workspace() *project.Workspace {
	return lm.workspace
}

func (lm *LifecycleManager) WatchTable() *watch.Table {
	return lm.table
}

func (lm *LifecycleManager) DeviceManager() *devices.Manager {
	return lm.deviceManager
}

// Streamer exposes the update fan-out, e.g. for an in-process terminal view.
func (lm *LifecycleManager) Streamer() *streaming.Streamer {
	return lm.streamer
}
