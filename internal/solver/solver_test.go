package solver_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hexlite/hexlited/internal/journal"
	"github.com/hexlite/hexlited/internal/model"
	"github.com/hexlite/hexlited/internal/solver"
	"github.com/stretchr/testify/require"
)

// Tests in this file write executable scripts, they do not run in parallel
// to avoid ETXTBSY when another test forks while a script is open for writing.

const exampleProgram = `a :- not b. b :- not a. { c ; d ; e }. :~ a. [1,a] :~ c. [1,c]`

// fakeSolver writes a shell script acting as the solver.
func fakeSolver(t *testing.T, body string) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "hexlite")
	err = os.WriteFile(path, []byte("#!"+sh+"\n"+body), 0o755)
	require.NoError(t, err)
	return path
}

func newSolver(t *testing.T, executable string, opts ...func(*solver.Config)) (*solver.Solver, string) {
	t.Helper()
	root := t.TempDir()
	cfg := solver.Config{
		Executable:      executable,
		PluginDir:       "/opt/hexlite/plugins",
		WorkspaceDir:    root,
		DeleteWorkspace: true,
		Timeout:         10 * time.Second,
		DrainTimeout:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := solver.New(cfg)
	require.NoError(t, err)
	return s, root
}

func exampleJob() model.SolverJob {
	return model.SolverJob{
		Program: exampleProgram,
		Parameters: model.Parameters{
			NumberOfAnswers: 5,
			AdditionalParameters: []model.KeyValuePair{
				{Key: "file:script.sh", Value: "echo \"hello from the shell\";\n"},
				{Key: "--flpcheck", Value: "none"},
			},
		},
	}
}

func TestSolve(t *testing.T) {
	capture := t.TempDir()
	hexlite := fakeSolver(t, fmt.Sprintf(`
cap=%s
printf '%%s\n' "$@" > "$cap/args"
pwd -P > "$cap/pwd"
cp program.hex "$cap/program.hex"
cp script.sh "$cap/script.sh"
echo "hexlite fake solver" >&2
echo '{"cost": [], "stratoms": ["b"]}'
echo ''
echo '{"cost": [], "stratoms": ["b", "e"]}'
echo '{"cost": [], "stratoms": ["b", "d"]}'
echo '{"cost": [], "stratoms": ["b", "d", "e"]}'
`, capture))

	s, root := newSolver(t, hexlite)
	res := s.Solve(t.Context(), exampleJob())

	require.True(t, res.Description.Success, res.Description.Messages)
	require.Zero(t, res.Description.Code)
	require.Equal(t, []string{"hexlite fake solver"}, res.Description.Messages)
	require.Len(t, res.Answers, 4)
	for idx, atoms := range [][]string{{"b"}, {"b", "e"}, {"b", "d"}, {"b", "d", "e"}} {
		require.Equal(t, atoms, res.Answers[idx].Atoms)
		require.True(t, res.Answers[idx].IsKnownOptimal)
		require.Empty(t, res.Answers[idx].Costs)
	}

	t.Run("command line", func(t *testing.T) {
		b, err := os.ReadFile(filepath.Join(capture, "args"))
		require.NoError(t, err)
		args := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
		require.Len(t, args, 6)
		require.Equal(t, []string{
			"--number=5",
			"--flpcheck=none",
			"--pluginpath=/opt/hexlite/plugins",
			"--plugin=jsonoutputplugin",
			"--",
		}, args[:5])
		require.True(t, filepath.IsAbs(args[5]))
		require.Equal(t, "program.hex", filepath.Base(args[5]))
		require.Equal(t, root, filepath.Dir(filepath.Dir(args[5])))
	})

	t.Run("working directory", func(t *testing.T) {
		b, err := os.ReadFile(filepath.Join(capture, "pwd"))
		require.NoError(t, err)
		realRoot, err := filepath.EvalSymlinks(root)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(b), filepath.Join(realRoot, solver.WorkspacePrefix)), string(b))
	})

	t.Run("materialized files", func(t *testing.T) {
		b, err := os.ReadFile(filepath.Join(capture, "program.hex"))
		require.NoError(t, err)
		require.Equal(t, exampleProgram, string(b))
		b, err = os.ReadFile(filepath.Join(capture, "script.sh"))
		require.NoError(t, err)
		require.Equal(t, "echo \"hello from the shell\";\n", string(b))
	})

	t.Run("workspace removed", func(t *testing.T) {
		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}

func TestSolve_Idempotent(t *testing.T) {
	hexlite := fakeSolver(t, `
echo '{"cost": [{"priority": 1, "cost": 1}], "stratoms": ["a"]}'
echo '{"cost": [], "stratoms": ["b"]}'
`)
	s, root := newSolver(t, hexlite)

	first := s.Solve(t.Context(), exampleJob())
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)

	second := s.Solve(t.Context(), exampleJob())
	entries, err = os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)

	require.Equal(t, first, second)
	require.Equal(t, []model.CostElement{{Level: 1, Cost: 1}}, first.Answers[0].Costs)
	require.False(t, first.Answers[0].IsKnownOptimal)
	require.True(t, first.Answers[1].IsKnownOptimal)
}

func TestSolve_Diagnostics(t *testing.T) {
	hexlite := fakeSolver(t, `
echo 'first' >&2
echo '' >&2
echo '   second   ' >&2
echo 'third' >&2
`)
	s, _ := newSolver(t, hexlite)
	res := s.Solve(t.Context(), exampleJob())

	require.Empty(t, res.Answers)
	require.Equal(t, []string{"first", "second", "third"}, res.Description.Messages)
}

func TestSolve_MissingExecutable(t *testing.T) {
	s, root := newSolver(t, filepath.Join(t.TempDir(), "does-not-exist"))
	res := s.Solve(t.Context(), exampleJob())

	require.Empty(t, res.Answers)
	require.False(t, res.Description.Success)
	require.Len(t, res.Description.Messages, 1)
	require.Contains(t, res.Description.Messages[0], model.ErrLaunch.Error())
	require.Contains(t, res.Description.Messages[0], "caused by:")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSolve_DecodeError(t *testing.T) {
	hexlite := fakeSolver(t, `
echo '{"cost": [], "stratoms": ["a"]}'
echo 'garbage'
echo '{"cost": [], "stratoms": ["b"]}'
`)
	s, _ := newSolver(t, hexlite)
	res := s.Solve(t.Context(), exampleJob())

	require.False(t, res.Description.Success)
	require.Len(t, res.Answers, 1)
	require.Equal(t, []string{"a"}, res.Answers[0].Atoms)
	require.Len(t, res.Description.Messages, 1)
	require.Contains(t, res.Description.Messages[0], "line 2")
	require.Contains(t, res.Description.Messages[0], model.ErrStreamDecode.Error())
}

func TestSolve_LineTooLong(t *testing.T) {
	hexlite := fakeSolver(t, `
printf '{"cost": [], "stratoms": ["%04000d"]}\n' 0
`)
	s, _ := newSolver(t, hexlite, func(c *solver.Config) { c.MaxLineBytes = 1024 })
	res := s.Solve(t.Context(), exampleJob())

	require.False(t, res.Description.Success)
	require.Empty(t, res.Answers)
	require.NotEmpty(t, res.Description.Messages)
	require.Contains(t, res.Description.Messages[len(res.Description.Messages)-1], model.ErrStreamDecode.Error())
}

func TestSolve_ExitCode(t *testing.T) {
	hexlite := fakeSolver(t, `
echo '{"cost": [], "stratoms": ["a"]}'
echo 'syntax error' >&2
exit 3
`)
	s, _ := newSolver(t, hexlite)
	res := s.Solve(t.Context(), exampleJob())

	require.False(t, res.Description.Success)
	require.Len(t, res.Answers, 1)
	require.Len(t, res.Description.Messages, 2)
	require.Equal(t, "syntax error", res.Description.Messages[0])
	require.Contains(t, res.Description.Messages[1], model.ErrSolverExit.Error())
	require.Contains(t, res.Description.Messages[1], "exit status 3")
}

func TestSolve_Timeout(t *testing.T) {
	hexlite := fakeSolver(t, `
echo '{"cost": [], "stratoms": ["a"]}'
exec sleep 10
`)
	s, root := newSolver(t, hexlite, func(c *solver.Config) { c.Timeout = 200 * time.Millisecond })

	start := time.Now()
	res := s.Solve(t.Context(), exampleJob())
	require.Less(t, time.Since(start), 5*time.Second)

	require.False(t, res.Description.Success)
	require.Len(t, res.Answers, 1)
	require.Len(t, res.Description.Messages, 1)
	require.Contains(t, res.Description.Messages[0], model.ErrTimeout.Error())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSolve_Canceled(t *testing.T) {
	hexlite := fakeSolver(t, `exec sleep 10`)
	s, _ := newSolver(t, hexlite)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	res := s.Solve(ctx, exampleJob())

	require.False(t, res.Description.Success)
	require.Len(t, res.Description.Messages, 1)
	require.Contains(t, res.Description.Messages[0], model.ErrInterrupted.Error())
}

func TestLaunch_Interrupted(t *testing.T) {
	hexlite := fakeSolver(t, `exec sleep 10`)

	ctx, cancel := context.WithCancel(t.Context())
	proc, err := solver.Launch(ctx, solver.Command{
		Path:    hexlite,
		Dir:     t.TempDir(),
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	cancel()

	err = proc.Wait()
	require.ErrorIs(t, err, model.ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSolve_DrainTimeout(t *testing.T) {
	// a background process keeps stderr open after stdout is closed
	hexlite := fakeSolver(t, `
echo early >&2
echo '{"cost": [], "stratoms": ["a"]}'
(exec 1>&-; sleep 2; echo late >&2) &
`)
	s, _ := newSolver(t, hexlite, func(c *solver.Config) { c.DrainTimeout = 200 * time.Millisecond })

	start := time.Now()
	res := s.Solve(t.Context(), exampleJob())
	require.Less(t, time.Since(start), 1500*time.Millisecond)

	require.True(t, res.Description.Success)
	require.Len(t, res.Answers, 1)
	require.Equal(t, []string{"early"}, res.Description.Messages)
}

func TestSolve_InUse(t *testing.T) {
	capture := t.TempDir()
	hexlite := fakeSolver(t, fmt.Sprintf(`
pwd > %[1]s/pwd.tmp
mv %[1]s/pwd.tmp %[1]s/pwd
sleep 1
echo '{"cost": [], "stratoms": []}'
`, capture))
	s, _ := newSolver(t, hexlite)

	done := make(chan model.SolveResult, 1)
	go func() {
		done <- s.Solve(t.Context(), exampleJob())
	}()

	pwdFile := filepath.Join(capture, "pwd")
	require.Eventually(t, func() bool {
		_, err := os.Stat(pwdFile)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	b, err := os.ReadFile(pwdFile)
	require.NoError(t, err)
	name := filepath.Base(strings.TrimSpace(string(b)))
	require.True(t, s.InUse(name))
	require.False(t, s.InUse("hexlite-unknown"))

	res := <-done
	require.True(t, res.Description.Success)
	require.False(t, s.InUse(name))
}

func TestSolve_KeepWorkspace(t *testing.T) {
	hexlite := fakeSolver(t, `echo '{"cost": [], "stratoms": []}'`)
	s, root := newSolver(t, hexlite, func(c *solver.Config) { c.DeleteWorkspace = false })
	res := s.Solve(t.Context(), exampleJob())
	require.True(t, res.Description.Success)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), solver.WorkspacePrefix))
	require.FileExists(t, filepath.Join(root, entries[0].Name(), solver.ProgramFile))
	require.FileExists(t, filepath.Join(root, entries[0].Name(), "script.sh"))
}

func TestSolve_InvalidFilename(t *testing.T) {
	capture := t.TempDir()
	hexlite := fakeSolver(t, fmt.Sprintf(`touch %s/started`, capture))
	s, root := newSolver(t, hexlite)

	job := exampleJob()
	job.Parameters.AdditionalParameters = append(job.Parameters.AdditionalParameters,
		model.KeyValuePair{Key: "file:../escape.sh", Value: "rm -rf /"},
	)
	res := s.Solve(t.Context(), job)

	require.False(t, res.Description.Success)
	require.Len(t, res.Description.Messages, 1)
	require.Contains(t, res.Description.Messages[0], model.ErrPreparation.Error())
	require.NoFileExists(t, filepath.Join(capture, "started"))
	require.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape.sh"))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

type journalRecord struct {
	op     string
	jobID  string
	result model.SolveResult
}

type fakeJournal struct {
	mx      sync.Mutex
	records []journalRecord
}

func (j *fakeJournal) Start(_ context.Context, jobID string) error {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.records = append(j.records, journalRecord{op: "start", jobID: jobID})
	return nil
}

func (j *fakeJournal) Finish(_ context.Context, jobID string, result model.SolveResult) error {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.records = append(j.records, journalRecord{op: "finish", jobID: jobID, result: result})
	return nil
}

func TestSolve_Journal(t *testing.T) {
	hexlite := fakeSolver(t, `echo '{"cost": [], "stratoms": ["a"]}'`)
	s, _ := newSolver(t, hexlite)
	fj := &fakeJournal{}
	s = s.WithJournal(fj)

	res := s.Solve(t.Context(), exampleJob())
	require.Len(t, fj.records, 2)
	require.Equal(t, "start", fj.records[0].op)
	require.Equal(t, "finish", fj.records[1].op)
	require.NotEmpty(t, fj.records[0].jobID)
	require.Equal(t, fj.records[0].jobID, fj.records[1].jobID)
	require.Equal(t, res, fj.records[1].result)
}

// startRecorder remembers the job IDs passed to the wrapped journal.
type startRecorder struct {
	*journal.Journal
	mx  sync.Mutex
	ids []string
}

func (r *startRecorder) Start(ctx context.Context, jobID string) error {
	r.mx.Lock()
	r.ids = append(r.ids, jobID)
	r.mx.Unlock()
	return r.Journal.Start(ctx, jobID)
}

func TestSolve_JournalCanceled(t *testing.T) {
	hexlite := fakeSolver(t, `exec sleep 10`)
	s, _ := newSolver(t, hexlite)

	j, err := journal.Open(t.Context(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, j.Close())
	})
	rec := &startRecorder{Journal: j}
	s = s.WithJournal(rec)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	res := s.Solve(ctx, exampleJob())
	require.False(t, res.Description.Success)

	require.Len(t, rec.ids, 1)
	entry, err := j.Get(t.Context(), rec.ids[0])
	require.NoError(t, err)
	require.False(t, entry.InProgress)
	require.NotNil(t, entry.Success)
	require.False(t, *entry.Success)
	require.NotNil(t, entry.FailureReason)
	require.Contains(t, *entry.FailureReason, model.ErrInterrupted.Error())
}

func TestNew(t *testing.T) {
	_, err := solver.New(solver.Config{})
	require.Error(t, err)
}
