package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/streaming"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/system"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/tui"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
)

type watchOptions struct {
	server string
	token  string
	names  []string
}

// newWatchCmd shows live watch values, either from a running server over
// gRPC or from a local device session.
func newWatchCmd(opts *globalOptions) *cobra.Command {
	wo := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch [name...]",
		Short: "Show live watch values",
		Long:  "Show live watch values. With --server the values come from a running\nworkspace, otherwise the device from the config is polled directly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			wo.names = args

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

			var (
				title   string
				initial []watch.Entry
				source  tui.Source
				cleanup func()
				err     error
			)
			if wo.server != "" {
				title, initial, source, cleanup, err = remoteSource(ctx, wo)
			} else {
				title, initial, source, cleanup, err = localSource(ctx, opts, wo, interactive)
			}
			if err != nil {
				return err
			}
			defer cleanup()

			if !interactive {
				err := tui.PrintLines(cmd.OutOrStdout(), initial, source)
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
					return nil
				}
				return err
			}

			p := tea.NewProgram(tui.NewModel(title, initial, source), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&wo.server, "server", "", "gRPC address of a running workspace, e.g. localhost:50051")
	cmd.Flags().StringVar(&wo.token, "token", os.Getenv("OPW_TOKEN"), "API token or JWT for --server")

	return cmd
}

func remoteSource(ctx context.Context, wo *watchOptions) (string, []watch.Entry, tui.Source, func(), error) {
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if wo.token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(streaming.BearerToken(wo.token)))
	}

	cc, err := grpc.NewClient(wo.server, dialOpts...)
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("watch: dial %s: %w", wo.server, err)
	}

	// the stream starts with a snapshot of every requested entry
	stream, err := streaming.NewMonitorClient(cc).Watch(ctx, wo.names)
	if err != nil {
		cc.Close()
		return "", nil, nil, nil, fmt.Errorf("watch: %w", err)
	}

	source := func() (watch.Entry, error) {
		return stream.Recv()
	}
	return wo.server, nil, source, func() { cc.Close() }, nil
}

func localSource(ctx context.Context, opts *globalOptions, wo *watchOptions, interactive bool) (string, []watch.Entry, tui.Source, func(), error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return "", nil, nil, nil, err
	}

	// log lines would tear the terminal view apart
	logger := zap.NewNop()
	if !interactive {
		if logger, err = opts.newLogger(); err != nil {
			return "", nil, nil, nil, err
		}
	}

	lm, err := system.NewLifecycleManager(ctx, cfg, logger)
	if err != nil {
		return "", nil, nil, nil, err
	}

	id, updates := lm.Streamer().Subscribe(wo.names)
	cleanup := func() {
		lm.Streamer().Unsubscribe(id)
		lm.Shutdown(context.Background())
	}

	dm := lm.DeviceManager()
	if err := dm.Connect(ctx); err != nil {
		cleanup()
		return "", nil, nil, nil, fmt.Errorf("watch: connect: %w", err)
	}
	dm.SetMonitoring(true)

	initial := filterEntries(lm.WatchTable().Entries(), wo.names)
	source := func() (watch.Entry, error) {
		select {
		case e, ok := <-updates:
			if !ok {
				return watch.Entry{}, io.EOF
			}
			return e, nil
		case <-ctx.Done():
			return watch.Entry{}, ctx.Err()
		}
	}
	return lm.Workspace().Name(), initial, source, cleanup, nil
}

func filterEntries(entries []watch.Entry, names []string) []watch.Entry {
	if len(names) == 0 {
		return entries
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := entries[:0]
	for _, e := range entries {
		if wanted[e.Name] {
			out = append(out, e)
		}
	}
	return out
}
