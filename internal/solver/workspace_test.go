package solver_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hexlite/hexlited/internal/model"
	"github.com/hexlite/hexlited/internal/solver"
	"github.com/stretchr/testify/require"
)

func TestWorkspace(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	ws, err := solver.NewWorkspace(root, "job", false)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(ws.Path()))
	require.Equal(t, root, filepath.Dir(ws.Path()))
	require.Equal(t, filepath.Join(ws.Path(), "program.hex"), ws.ProgramPath())

	binary := []byte{0x00, 0xff, '\n', 0x10}
	files := []solver.FileParameter{
		{Filename: "script.sh", Content: []byte("echo hello\n")},
		{Filename: "blob.bin", Content: binary},
		{Filename: "script.sh", Content: []byte("echo again\n")},
	}
	program := "a :- not b. b :- not a. % ünïcode"
	err = ws.Prepare(t.Context(), program, files)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(ws.Path(), "script.sh"))
	require.NoError(t, err)
	require.Equal(t, "echo again\n", string(b))
	b, err = os.ReadFile(filepath.Join(ws.Path(), "blob.bin"))
	require.NoError(t, err)
	require.Equal(t, binary, b)
	b, err = os.ReadFile(ws.ProgramPath())
	require.NoError(t, err)
	require.Equal(t, program, string(b))

	require.NoError(t, ws.Close(t.Context()))
	require.NoDirExists(t, ws.Path())
}

func TestWorkspace_Unique(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	a, err := solver.NewWorkspace(root, "same", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(t.Context()) })
	b, err := solver.NewWorkspace(root, "same", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(t.Context()) })
	require.NotEqual(t, a.Path(), b.Path())
}

func TestWorkspace_Keep(t *testing.T) {
	t.Parallel()
	ws, err := solver.NewWorkspace(t.TempDir(), "job", true)
	require.NoError(t, err)
	require.NoError(t, ws.Prepare(t.Context(), "a.", nil))
	require.NoError(t, ws.Close(t.Context()))
	require.FileExists(t, ws.ProgramPath())
}

func TestWorkspace_InvalidFilename(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", ".", "..", "../escape", "sub/file", "/etc/passwd", `dir\file`} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			ws, err := solver.NewWorkspace(root, "job", false)
			require.NoError(t, err)
			t.Cleanup(func() { _ = ws.Close(t.Context()) })

			err = ws.Prepare(t.Context(), "a.", []solver.FileParameter{{Filename: name, Content: []byte("x")}})
			require.Error(t, err)
			require.ErrorIs(t, err, model.ErrPreparation)
			require.ErrorIs(t, err, solver.ErrInvalidFilename)
			require.NoFileExists(t, filepath.Join(root, "escape"))
		})
	}
}

func TestWorkspace_MissingRoot(t *testing.T) {
	t.Parallel()
	_, err := solver.NewWorkspace(filepath.Join(t.TempDir(), "does", "not", "exist"), "job", false)
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrPreparation)
}
