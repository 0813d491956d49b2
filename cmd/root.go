package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-compliance/internal/application"
	"github.com/khanhnv2901/seca-compliance/internal/metrics"
	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
)

const (
	configName   = ".seca-compliance"
	envPrefix    = "SECA"
	pluginsDirNm = "plugins"
)

var (
	cfgFile   string
	operator  string
	checksDir string
	verbose   bool
	noColor   bool
)

// AppContext carries what every command needs once the root pre-run has
// resolved configuration.
type AppContext struct {
	Logger     *zap.SugaredLogger
	Operator   string
	DataDir    string
	ResultsDir string
	ConfigFile string
	Config     *CLIConfig
	Services   *application.Container
	Metrics    *metrics.Metrics
}

type appContextKey struct{}

// globalAppContext backs getAppContext for commands invoked directly in tests.
var globalAppContext *AppContext

func storeAppContext(cmd *cobra.Command, appCtx *AppContext) {
	globalAppContext = appCtx
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, appContextKey{}, appCtx))
}

func getAppContext(cmd *cobra.Command) *AppContext {
	if cmd != nil {
		if ctx := cmd.Context(); ctx != nil {
			if appCtx, ok := ctx.Value(appContextKey{}).(*AppContext); ok {
				return appCtx
			}
		}
	}
	return globalAppContext
}

var rootCmd = &cobra.Command{
	Use:   "seca-compliance",
	Short: "Host security-compliance probes over local shell or SSH",
	Long: `seca-compliance runs read-only compliance checks (time sync, certificates,
containers, production hardening) against the local host or a remote host over
SSH, and keeps an auditable history of every run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipAppContext(cmd) {
			return nil
		}
		appCtx, err := initAppContext(cmd)
		if err != nil {
			return err
		}
		storeAppContext(cmd, appCtx)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appCtx := getAppContext(cmd); appCtx != nil && appCtx.Logger != nil {
			_ = appCtx.Logger.Sync()
		}
	},
}

// skipAppContext lists commands that work without a data directory.
func skipAppContext(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "completion", "validate":
		return true
	}
	return false
}

func initAppContext(cmd *cobra.Command) (*AppContext, error) {
	configFile, err := initConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dataDir, err := getDataDir()
	if err != nil {
		return nil, err
	}

	resultsDir := viper.GetString("results_dir")
	if resultsDir == "" {
		resultsDir = filepath.Join(dataDir, "results")
	}
	if abs, err := filepath.Abs(resultsDir); err == nil {
		resultsDir = abs
	}
	if err := os.MkdirAll(resultsDir, consts.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	cfg := cliConfig
	applyConfigDefaults(cmd, cfg)

	op := operator
	if op == "" {
		op = cfg.Defaults.Operator
	}
	if op == "" {
		return nil, errors.New("operator identity is required (use --operator or set USER env)")
	}

	extraChecks := checksDir
	if extraChecks == "" {
		extraChecks = viper.GetString("checks_dir")
	}

	m := metrics.New(true)
	services, err := application.NewContainer(application.Options{
		ResultsDir: resultsDir,
		ChecksDir:  extraChecks,
		PluginsDir: filepath.Join(dataDir, pluginsDirNm),
		Logger:     logger.Desugar(),
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Debugw("app_context_ready", "operator", op, "results_dir", resultsDir, "checks", services.Registry.Len())

	return &AppContext{
		Logger:     logger,
		Operator:   op,
		DataDir:    dataDir,
		ResultsDir: resultsDir,
		ConfigFile: configFile,
		Config:     cfg,
		Services:   services,
		Metrics:    m,
	}, nil
}

// initConfig wires viper to the config file and SECA_ environment variables.
// It returns the config file in use, if any.
func initConfig() (string, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		if cfgFile == "" && os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	return viper.ConfigFileUsed(), nil
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		// Keep stdout for reports; logs go to stderr.
		cfg.OutputPaths = []string{"stderr"}
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		l, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Execute runs the root command and exits with the code the command asked
// for.
func Execute() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var cf *ComplianceFailureError
	if errors.As(err, &cf) {
		return cf.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", colorError("Error:"), err)
	return 1
}

func init() {
	cobra.OnInitialize(func() { initColor(noColor) })

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.seca-compliance.yaml)")
	rootCmd.PersistentFlags().StringVarP(&operator, "operator", "o", "", "operator name recorded in the audit trail (default $USER)")
	rootCmd.PersistentFlags().StringVar(&checksDir, "checks-dir", "", "directory of additional YAML check packs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose (development) logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}
