package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hexlite/hexlited/internal/model"
)

const (
	// ProgramFile is the name of the program inside a workspace.
	ProgramFile = "program.hex"
	// WorkspacePrefix starts the name of every workspace directory.
	WorkspacePrefix = "hexlite-"
)

var ErrInvalidFilename = errors.New("invalid file name")

// Workspace is a directory owned by exactly one job.
type Workspace struct {
	path string
	keep bool
}

// NewWorkspace creates a new unique directory inside dir. When keep is true
// Close leaves the directory in place.
func NewWorkspace(dir, jobID string, keep bool) (*Workspace, error) {
	path, err := os.MkdirTemp(dir, WorkspacePrefix+jobID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: creating workspace: %w", model.ErrPreparation, err)
	}
	path, err = filepath.Abs(path)
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("%w: %w", model.ErrPreparation, err)
	}
	return &Workspace{path: path, keep: keep}, nil
}

func (w *Workspace) Path() string {
	return w.path
}

func (w *Workspace) ProgramPath() string {
	return filepath.Join(w.path, ProgramFile)
}

// Prepare writes files and then the program into the workspace. Existing
// files are overwritten.
func (w *Workspace) Prepare(ctx context.Context, program string, files []FileParameter) error {
	names := make([]string, 0, len(files))
	for _, fp := range files {
		names = append(names, fp.Filename)
	}
	slog.DebugContext(ctx, "preparing workspace", "dir", w.path, "program_len", len(program), "files", names)

	root, err := os.OpenRoot(w.path)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrPreparation, err)
	}
	defer func() {
		_ = root.Close()
	}()

	for _, fp := range files {
		if err := validFilename(fp.Filename); err != nil {
			return fmt.Errorf("%w: %w", model.ErrPreparation, err)
		}
		if err := writeFile(root, fp.Filename, fp.Content); err != nil {
			return fmt.Errorf("%w: writing %s: %w", model.ErrPreparation, fp.Filename, err)
		}
	}

	if err := writeFile(root, ProgramFile, []byte(program)); err != nil {
		return fmt.Errorf("%w: writing program: %w", model.ErrPreparation, err)
	}
	return nil
}

// Close removes the workspace unless it is kept for debugging.
func (w *Workspace) Close(ctx context.Context) error {
	if w.keep {
		slog.WarnContext(ctx, "workspace is kept, remove it manually", "path", w.path)
		return nil
	}
	return os.RemoveAll(w.path)
}

// validFilename accepts a single local path element only.
func validFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	case strings.ContainsAny(name, `/\`), !filepath.IsLocal(name):
		return fmt.Errorf("%w: %q must not contain a path", ErrInvalidFilename, name)
	}
	return nil
}

func writeFile(root *os.Root, name string, b []byte) error {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(b)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
