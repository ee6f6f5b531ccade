package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/devices"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/project"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State        string         `json:"state"`
	Project      string         `json:"project"`
	WatchEntries int            `json:"watch_entries"`
	Device       devices.Status `json:"device"`
	Clients      int            `json:"clients"`

	// updates the gRPC stream dropped for slow subscribers
	StreamDropped uint64 `json:"stream_dropped"`
}

// LifecycleManager is what the API layers need from the running system.
type LifecycleManager interface {
	Config() *config.Config
	Workspace() *project.Workspace
	WatchTable() *watch.Table
	DeviceManager() *devices.Manager

	// ReplaceProject validates p and makes it the open project.
	ReplaceProject(p *types.Project) error
	SaveProject(ctx context.Context) error
	ReloadProject(ctx context.Context) error

	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
