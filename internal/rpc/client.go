package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/hexlite/hexlited/internal/model"
)

type Client struct {
	solve *connect.Client[model.SolverJob, model.SolveResult]
}

// NewClient returns a client of a service running at baseURL, e.g. http://localhost:50051.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	return &Client{
		solve: connect.NewClient[model.SolverJob, model.SolveResult](
			httpClient,
			strings.TrimRight(baseURL, "/")+SolveProcedure,
			connect.WithCodec(jsonCodec{}),
		),
	}
}

func (c *Client) Solve(ctx context.Context, job model.SolverJob) (model.SolveResult, error) {
	resp, err := c.solve.CallUnary(ctx, connect.NewRequest(&job))
	if err != nil {
		return model.SolveResult{}, err
	}
	return *resp.Msg, nil
}
