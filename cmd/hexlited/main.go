package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hexlite/hexlited/internal/log"
	"github.com/hexlite/hexlited/internal/model"
)

var (
	userConfigPath string // /default/config/path/hexlited on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

var configNames = []string{"config.yaml", "config.json"}

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "hexlited")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is config.yaml or config.json in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	serveCmd.Flags().Int("port", 0, "listen port, overrides grpcport from the config")
	serveCmd.Flags().Bool("keep-workspace", false, "do not delete job workspaces")

	solveCmd.Flags().Int("number", 0, "number of answer sets to compute, 0 means all")
	solveCmd.Flags().StringArray("param", nil, "additional solver parameter as key=value or key, can be repeated")
	solveCmd.Flags().StringArray("file", nil, "auxiliary file as name=path, can be repeated")
	solveCmd.Flags().String("remote", "", "base URL of a running hexlited, the job is solved locally if empty")

	// flags bound to viper win over HEXLITE_* environment variables
	for key, flag := range map[string]string{
		"config":  "config",
		"verbose": "verbose",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	for key, flag := range map[string]string{
		"grpcport":       "port",
		"keep_workspace": "keep-workspace",
	} {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initHexlited

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("hexlited failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "hexlited",
	Short:        "Service running the hexlite answer-set solver",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a hexlited",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("hexlited: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("hexlited: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initHexlited(cmd *cobra.Command, _ []string) error {
	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env: %w", err)
	}

	viper.SetEnvPrefix("hexlite")
	viper.AutomaticEnv()
	if err := viper.BindEnv("config", "CONFIG", "HEXLITE_CONFIG"); err != nil {
		return err
	}

	var err error
	configPath, err = findConfig(viper.GetString("config"), userConfigPath, ".")
	if err != nil {
		return err
	}

	if configPath == "" {
		configPath = filepath.Join(userConfigPath, configNames[0])
		config, err = storeDefault(cmd.Context(), configPath)
		if err != nil {
			return err
		}
	} else {
		config, err = loadConfig(configPath)
		if err != nil {
			return err
		}
	}

	applyOverrides(&config)

	slog.SetDefault(log.New(config.Verbose))
	slog.Debug("hexlited init", "configPath", configPath)
	slog.Debug("hexlited init", "config", config)
	return nil
}

// findConfig returns explicit if set, otherwise the first config file found
// in dirs. Empty result means nothing was found.
func findConfig(explicit string, dirs ...string) (string, error) {
	if explicit != "" {
		if !exists(explicit) {
			return "", fmt.Errorf("config file %s does not exist", explicit)
		}
		return explicit, nil
	}
	for _, d := range dirs {
		for _, name := range configNames {
			path := filepath.Join(d, name)
			if exists(path) {
				return path, nil
			}
		}
	}
	return "", nil
}

func storeDefault(ctx context.Context, path string) (model.Config, error) {
	cfg := model.DefaultConfig(ctx)
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return cfg, fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return cfg, fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return cfg, fmt.Errorf("storing configuration: %w", err)
	}
	return cfg, enc.Close()
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid config", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// applyOverrides lets flags and HEXLITE_* environment variables win over the
// config file.
func applyOverrides(cfg *model.Config) {
	if viper.IsSet("grpcport") {
		cfg.GRPCPort = viper.GetInt("grpcport")
	}
	if viper.GetBool("keep_workspace") {
		cfg.DeleteWorkspace = false
	}
	if viper.GetBool("verbose") {
		cfg.Verbose = true
	}
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
