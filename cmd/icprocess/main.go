package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mhuen/ic3-processing/internal/log"
	"github.com/mhuen/ic3-processing/internal/model"
	"github.com/mhuen/ic3-processing/internal/runner"
)

var (
	userConfigPath string // default config directory for icprocess on this OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "icprocess")
}

func main() {
	// .env is optional, absence is not an error
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is icprocess.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages twice
	rootCmd.SilenceErrors = true

	// parse the config and set up logging before any command runs
	rootCmd.PersistentPreRunE = initProcessing

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, runner.ErrInterrupted) {
			slog.Info("run interrupted, progress stored in the resume log")
			return
		}
		slog.Error("icprocess failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "icprocess",
	Short:        "Local supervisor running batches of job scripts with bounded parallelism",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run DIR",
	Short: "run executes all job scripts found in DIR, at most --jobs at a time",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume RESUME_FILE",
	Short: "resume continues an interrupted batch from its resume log",
	Args:  cobra.ExactArgs(1),
	RunE:  doResume,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of icprocess",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("icprocess: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("icprocess: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
	},
}

func initProcessing(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("ICPROCESS_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "icprocess.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		config = model.DefaultConfig()
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	if err := applyEnv(&config); err != nil {
		return err
	}

	// --verbose has precedence over config file and environment
	if flagVerbose {
		verbose := true
		config.Verbose = &verbose
	}

	slog.SetDefault(log.New(os.Stderr, config.IsVerbose()))

	slog.Debug("icprocess starting", "configPath", configPath)
	slog.Debug("icprocess starting", "config", fmt.Sprintf("%+v", config))
	return nil
}

// applyEnv overrides config values from ICPROCESS_* variables, which may
// come from the process environment or a .env file.
func applyEnv(cfg *model.Config) error {
	if v, ok := os.LookupEnv("ICPROCESS_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing ICPROCESS_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v, ok := os.LookupEnv("ICPROCESS_PATTERN"); ok {
		cfg.Pattern = v
	}
	if v, ok := os.LookupEnv("ICPROCESS_LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := os.LookupEnv("ICPROCESS_STATUS_ADDR"); ok {
		cfg.StatusAddr = v
	}
	return cfg.Validate()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
