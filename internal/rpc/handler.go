package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"golang.org/x/sync/semaphore"

	"github.com/hexlite/hexlited/internal/model"
)

const (
	ServiceName    = "hexlite.HexliteAnswerSetSolver"
	SolveProcedure = "/" + ServiceName + "/solve"
)

type Solver interface {
	Solve(ctx context.Context, job model.SolverJob) model.SolveResult
}

// Handler serves the solve procedure. At most workers jobs run at the same
// time, other requests wait for a free slot.
type Handler struct {
	solver  Solver
	workers *semaphore.Weighted
}

func NewHandler(solver Solver, workers int) *Handler {
	if workers <= 0 {
		workers = 1
	}
	return &Handler{
		solver:  solver,
		workers: semaphore.NewWeighted(int64(workers)),
	}
}

// Solve never reports pipeline failures as an RPC error, they are part of the
// returned result.
func (h *Handler) Solve(ctx context.Context, req *connect.Request[model.SolverJob]) (*connect.Response[model.SolveResult], error) {
	if err := h.workers.Acquire(ctx, 1); err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("waiting for a free worker: %w", err))
	}
	defer h.workers.Release(1)

	slog.DebugContext(ctx, "ENTRY solve", "peer", req.Peer().Addr, "protocol", req.Peer().Protocol)
	res := h.solver.Solve(ctx, *req.Msg)
	return connect.NewResponse(&res), nil
}

func NewMux(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(SolveProcedure, connect.NewUnaryHandler(
		SolveProcedure,
		h.Solve,
		connect.WithCodec(jsonCodec{}),
	))
	return mux
}
