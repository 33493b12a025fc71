package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config is the service configuration. The keys of the legacy config.json
// (executable, builtin_plugins_plugindir, grpcport) are kept as they are.
type Config struct {
	Version         int    `json:"version" yaml:"version"` // fixed 0 for now
	Executable      string `json:"executable" yaml:"executable"`
	PluginDir       string `json:"builtin_plugins_plugindir" yaml:"builtin_plugins_plugindir"`
	GRPCPort        int    `json:"grpcport" yaml:"grpcport"`
	DeleteWorkspace bool   `json:"delete_workspace" yaml:"delete_workspace"` // false keeps workspaces for debugging
	WorkspaceDir    string `json:"workspace_dir,omitempty" yaml:"workspace_dir,omitempty"` // empty => os.TempDir()
	Timeout         string `json:"timeout,omitempty" yaml:"timeout,omitempty"`             // empty => no timeout
	DrainTimeout    string `json:"drain_timeout" yaml:"drain_timeout"`
	Workers         int    `json:"workers" yaml:"workers"`
	MaxLineBytes    int    `json:"max_line_bytes" yaml:"max_line_bytes"`
	Verbose         bool   `json:"verbose" yaml:"verbose"`
	Journal         string `json:"journal,omitempty" yaml:"journal,omitempty"` // sqlite path, empty => disabled
	Sweep           *Sweep `json:"sweep,omitempty" yaml:"sweep,omitempty"`
}

// Sweep configures periodic removal of stale workspaces. Exactly one of Cron
// and Duration is expected.
type Sweep struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	MaxAge   string `json:"max_age" yaml:"max_age"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version:         0,
		Executable:      "hexlite",
		PluginDir:       "/opt/hexlite/plugins",
		GRPCPort:        50051,
		DeleteWorkspace: true,
		DrainTimeout:    "2s",
		Workers:         10,
		MaxLineBytes:    16 * 1024 * 1024,
	}
}

// LoadConfig validates YAML (or JSON) from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if out.Version != 0 {
		return Config{}, fmt.Errorf("config version %d is not supported, expected 0", out.Version)
	}

	return out, nil
}

// TimeoutDuration returns the solver timeout, zero means no timeout.
func (c Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return ParseDuration(c.Timeout)
}

func (c Config) DrainTimeoutDuration() (time.Duration, error) {
	if c.DrainTimeout == "" {
		return 0, nil
	}
	return ParseDuration(c.DrainTimeout)
}

// Workspaces returns a directory where per job workspaces are created.
func (c Config) Workspaces() string {
	if c.WorkspaceDir == "" {
		return os.TempDir()
	}
	return c.WorkspaceDir
}
