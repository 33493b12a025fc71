package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hexlite/hexlited/internal/journal"
	"github.com/hexlite/hexlited/internal/log"
	"github.com/hexlite/hexlited/internal/rpc"
	"github.com/hexlite/hexlited/internal/solver"
	"github.com/hexlite/hexlited/internal/sweep"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the solve procedure on grpcport",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	attrs := slog.Group("hexlited",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	s, closeJournal, err := newSolver(ctx)
	if err != nil {
		return err
	}
	defer closeJournal()

	if config.Sweep != nil {
		if config.DeleteWorkspace {
			sweeper, err := sweep.New(ctx, config.Workspaces(), *config.Sweep, s.InUse)
			if err != nil {
				return fmt.Errorf("configuring workspace sweeper: %w", err)
			}
			sweeper.Start()
			defer func() {
				if err := sweeper.Shutdown(); err != nil {
					slog.WarnContext(ctx, "sweeper shutdown", "error", err)
				}
			}()
		} else {
			slog.WarnContext(ctx, "workspace sweeper disabled: delete_workspace is false")
		}
	}

	handler := rpc.NewHandler(s, config.Workers)
	server := rpc.NewServer(config.GRPCPort, rpc.NewMux(handler))
	slog.InfoContext(ctx, "serving", "addr", server.Addr(), "procedure", rpc.SolveProcedure, "workers", config.Workers)
	return server.Serve(ctx)
}

// newSolver builds the solver from the loaded config. The returned func
// closes the journal, if any.
func newSolver(ctx context.Context) (*solver.Solver, func(), error) {
	noop := func() {}
	cfg, err := solver.ConfigFromModel(config)
	if err != nil {
		return nil, noop, fmt.Errorf("parsing config: %w", err)
	}
	s, err := solver.New(cfg)
	if err != nil {
		return nil, noop, err
	}
	if config.Journal == "" {
		return s, noop, nil
	}

	j, err := journal.Open(ctx, config.Journal)
	if err != nil {
		return nil, noop, fmt.Errorf("opening journal: %w", err)
	}
	closeJournal := func() {
		if err := j.Close(); err != nil {
			slog.WarnContext(ctx, "closing journal", "path", config.Journal, "error", err)
		}
	}
	return s.WithJournal(j), closeJournal, nil
}
