package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hexlite/hexlited/internal/log"
	"github.com/hexlite/hexlited/internal/model"
	"github.com/hexlite/hexlited/internal/rpc"
	"github.com/hexlite/hexlited/internal/solver"
)

var solveCmd = &cobra.Command{
	Use:   "solve <program-file>",
	Short: "solve runs a single job locally or on a remote hexlited and prints the result",
	Args:  cobra.ExactArgs(1),
	RunE:  doSolve,
}

var errNotSuccessful = errors.New("solve was not successful")

func doSolve(cmd *cobra.Command, args []string) error {
	attrs := slog.Group("hexlited",
		slog.String("cmd", "solve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	flags := cmd.Flags()
	number, err := flags.GetInt("number")
	if err != nil {
		return err
	}
	params, err := flags.GetStringArray("param")
	if err != nil {
		return err
	}
	files, err := flags.GetStringArray("file")
	if err != nil {
		return err
	}
	remote, err := flags.GetString("remote")
	if err != nil {
		return err
	}

	job, err := buildJob(args[0], number, params, files)
	if err != nil {
		return err
	}

	var result model.SolveResult
	if remote != "" {
		result, err = rpc.NewClient(http.DefaultClient, remote).Solve(ctx, job)
		if err != nil {
			return err
		}
	} else {
		s, closeJournal, err := newSolver(ctx)
		if err != nil {
			return err
		}
		defer closeJournal()
		result = s.Solve(ctx, job)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("printing result: %w", err)
	}
	if !result.Description.Success {
		return errNotSuccessful
	}
	return nil
}

// buildJob reads the program and auxiliary files from disk. Files become
// file:<name> parameters, params are passed as they are.
func buildJob(programPath string, number int, params, files []string) (model.SolverJob, error) {
	program, err := os.ReadFile(programPath)
	if err != nil {
		return model.SolverJob{}, fmt.Errorf("reading program: %w", err)
	}

	job := model.SolverJob{
		Program: string(program),
		Parameters: model.Parameters{
			NumberOfAnswers: number,
		},
	}
	for _, p := range params {
		key, value, _ := strings.Cut(p, "=")
		if key == "" {
			return model.SolverJob{}, fmt.Errorf("invalid --param %q: empty key", p)
		}
		job.Parameters.AdditionalParameters = append(job.Parameters.AdditionalParameters,
			model.KeyValuePair{Key: key, Value: value})
	}
	for _, f := range files {
		name, path, ok := strings.Cut(f, "=")
		if !ok || name == "" || path == "" {
			return model.SolverJob{}, fmt.Errorf("invalid --file %q: expected name=path", f)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return model.SolverJob{}, fmt.Errorf("reading file %s: %w", name, err)
		}
		job.Parameters.AdditionalParameters = append(job.Parameters.AdditionalParameters,
			model.KeyValuePair{Key: solver.FilePrefix + name, Value: string(content)})
	}
	return job, nil
}
