package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hexlite/hexlited/internal/log"
	"github.com/hexlite/hexlited/internal/model"
)

const (
	defaultMaxLineBytes = 16 * 1024 * 1024
	journalTimeout      = 5 * time.Second
)

// Config holds everything a Solver needs, it is resolved once at startup.
type Config struct {
	Executable      string
	PluginDir       string
	WorkspaceDir    string
	DeleteWorkspace bool
	Timeout         time.Duration // zero means no timeout
	DrainTimeout    time.Duration // zero means wait for stderr without a limit
	MaxLineBytes    int
}

func ConfigFromModel(cfg model.Config) (Config, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return Config{}, fmt.Errorf("parsing timeout: %w", err)
	}
	drain, err := cfg.DrainTimeoutDuration()
	if err != nil {
		return Config{}, fmt.Errorf("parsing drain_timeout: %w", err)
	}
	return Config{
		Executable:      cfg.Executable,
		PluginDir:       cfg.PluginDir,
		WorkspaceDir:    cfg.Workspaces(),
		DeleteWorkspace: cfg.DeleteWorkspace,
		Timeout:         timeout,
		DrainTimeout:    drain,
		MaxLineBytes:    cfg.MaxLineBytes,
	}, nil
}

// Journal records the life of every job.
type Journal interface {
	Start(ctx context.Context, jobID string) error
	Finish(ctx context.Context, jobID string, result model.SolveResult) error
}

// Solver runs solver jobs. It is safe for concurrent use, every call to Solve
// owns its workspace and process.
type Solver struct {
	cfg     Config
	interp  Interpreter
	journal Journal
	active  sync.Map // workspace directory name => struct{}
}

func New(cfg Config) (*Solver, error) {
	if cfg.Executable == "" {
		return nil, errors.New("solver executable is empty")
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	interp, err := NewInterpreter()
	if err != nil {
		return nil, err
	}
	return &Solver{
		cfg:    cfg,
		interp: interp,
	}, nil
}

func (s *Solver) WithJournal(j Journal) *Solver {
	s.journal = j
	return s
}

// Solve runs job and returns its result. It never fails: any error is
// described in the result messages.
func (s *Solver) Solve(ctx context.Context, job model.SolverJob) model.SolveResult {
	jobID := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("job_id", jobID))
	slog.InfoContext(ctx, "solve",
		"program_len", len(job.Program),
		"number_of_answers", job.Parameters.NumberOfAnswers,
		"additional_parameters", len(job.Parameters.AdditionalParameters),
	)

	if s.journal != nil {
		jctx, cancel := journalContext(ctx)
		if err := s.journal.Start(jctx, jobID); err != nil {
			slog.ErrorContext(ctx, "journal start", "error", err)
		}
		cancel()
	}

	ret := model.SolveResult{
		Description: model.Description{
			Code:    0, // no meaning
			Success: false,
		},
	}

	sink := &MessageSink{}
	answers, err := s.run(ctx, jobID, job, sink)
	if err != nil {
		slog.ErrorContext(ctx, "solve failed", "error", err)
		sink.Append(Describe(err))
	}
	ret.Answers = answers
	ret.Description.Success = err == nil
	ret.Description.Messages = sink.Messages()
	slog.InfoContext(ctx, "finished", "answers", len(ret.Answers), "success", ret.Description.Success)

	if s.journal != nil {
		jctx, cancel := journalContext(ctx)
		if err := s.journal.Finish(jctx, jobID, ret); err != nil {
			slog.ErrorContext(ctx, "journal finish", "error", err)
		}
		cancel()
	}
	return ret
}

// journalContext keeps the values of ctx but not its cancellation, a job
// canceled by its caller is still recorded.
func journalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
}

// InUse reports whether name is the directory name of a workspace of a job
// which is still running.
func (s *Solver) InUse(name string) bool {
	_, ok := s.active.Load(name)
	return ok
}

func (s *Solver) run(ctx context.Context, jobID string, job model.SolverJob, sink *MessageSink) ([]model.AnswerSet, error) {
	params, files := Classify(job.Parameters)
	slog.DebugContext(ctx, "classified parameters", "parameters", params, "files", files)

	ws, err := NewWorkspace(s.cfg.WorkspaceDir, jobID, !s.cfg.DeleteWorkspace)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(ws.Path())
	s.active.Store(name, struct{}{})
	defer func() {
		if err := ws.Close(ctx); err != nil {
			slog.ErrorContext(ctx, "removing workspace", "path", ws.Path(), "error", err)
		}
		s.active.Delete(name)
	}()

	if err := ws.Prepare(ctx, job.Program, files); err != nil {
		return nil, err
	}

	proc, err := Launch(ctx, Command{
		Path:    s.cfg.Executable,
		Args:    Args(s.cfg.PluginDir, ws.ProgramPath(), params),
		Dir:     ws.Path(),
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, proc, sink)
}

// collect reads answer sets from stdout while stderr is drained into sink by
// a second goroutine.
func (s *Solver) collect(ctx context.Context, proc *Process, sink *MessageSink) ([]model.AnswerSet, error) {
	var g errgroup.Group
	g.Go(func() error {
		drainStderr(ctx, proc.Stderr, sink, s.cfg.MaxLineBytes)
		return nil
	})

	var answers []model.AnswerSet
	readErr := readResults(proc.Stdout, s.cfg.MaxLineBytes, s.interp, func(a model.AnswerSet) {
		slog.DebugContext(ctx, "got answer set", "atoms", a.Atoms, "costs", a.Costs)
		answers = append(answers, a)
	})
	if readErr != nil {
		proc.Kill()
	}

	s.joinDrain(ctx, &g)
	waitErr := proc.Wait()
	if readErr != nil {
		return answers, readErr
	}
	return answers, waitErr
}

func (s *Solver) joinDrain(ctx context.Context, g *errgroup.Group) {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	if s.cfg.DrainTimeout == 0 {
		<-done
		return
	}

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.WarnContext(ctx, "solver stderr not drained in time", "drain_timeout", s.cfg.DrainTimeout.String())
	}
}

// Describe formats err followed by every error in its chain.
func Describe(err error) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	for _, cause := range causes(err) {
		fmt.Fprintf(&sb, "\ncaused by: %T: %v", cause, cause)
	}
	return sb.String()
}

func causes(err error) []error {
	var ret []error
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		if e := x.Unwrap(); e != nil {
			ret = append(ret, e)
			ret = append(ret, causes(e)...)
		}
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			ret = append(ret, e)
			ret = append(ret, causes(e)...)
		}
	}
	return ret
}
