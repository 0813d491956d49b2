package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultConcurrency     = 4
	defaultTimeoutSeconds  = 30
	defaultCheckBudgetSecs = 0
	defaultOutputFormat    = "table"
	defaultFailOn          = "failed"
)

// CLIConfig captures runtime configuration shared across commands.
type CLIConfig struct {
	Defaults DefaultValues
	Run      RunConfig
}

// DefaultValues represent operator-level defaults, typically derived from env/config.
type DefaultValues struct {
	Concurrency      int
	TimeoutSecs      int
	TelemetryEnabled bool
	Operator         string
	Output           string
}

// RunConfig consolidates flag-driven settings for the run command.
type RunConfig struct {
	Categories []string
	IDs        []string
	Exclude    []string

	Concurrency     int
	TimeoutSecs     int
	CheckBudgetSecs int
	RateLimit       int

	Output           string
	OutFile          string
	VerboseEvidence  bool
	ProgressEnabled  bool
	TelemetryEnabled bool
	MetricsFile      string
	FailOn           string

	Target TargetConfig
}

// TargetConfig groups the connection flags.
type TargetConfig struct {
	Kind         string
	Host         string
	Port         int
	User         string
	IdentityFile string
	PasswordEnv  string
	AskPass      bool
	KnownHosts   string
	Insecure     bool
	UseAgent     bool
}

type defaultOverrides struct {
	Concurrency      *int
	TimeoutSecs      *int
	CheckBudgetSecs  *int
	RateLimit        *int
	TelemetryEnabled *bool
	Operator         string
	OperatorOverride bool
	Output           string

	Host         string
	Port         *int
	User         string
	IdentityFile string
	KnownHosts   string
	Insecure     *bool
}

var cliConfig = newCLIConfig()

func newCLIConfig() *CLIConfig {
	operator := detectOperatorFromEnv()
	return &CLIConfig{
		Defaults: DefaultValues{
			Concurrency:      defaultConcurrency,
			TimeoutSecs:      defaultTimeoutSeconds,
			TelemetryEnabled: false,
			Operator:         operator,
			Output:           defaultOutputFormat,
		},
		Run: RunConfig{
			Concurrency:     defaultConcurrency,
			TimeoutSecs:     defaultTimeoutSeconds,
			CheckBudgetSecs: defaultCheckBudgetSecs,
			Output:          defaultOutputFormat,
			FailOn:          defaultFailOn,
			Target: TargetConfig{
				Kind:     "local",
				UseAgent: true,
			},
		},
	}
}

func detectOperatorFromEnv() string {
	if env := os.Getenv("USER"); env != "" {
		return env
	}
	if env := os.Getenv("LOGNAME"); env != "" {
		return env
	}
	return ""
}

func intOverride(key string) *int {
	if !viper.IsSet(key) {
		return nil
	}
	val := viper.GetInt(key)
	return &val
}

func boolOverride(key string) *bool {
	if !viper.IsSet(key) {
		return nil
	}
	val := viper.GetBool(key)
	return &val
}

func loadDefaultOverrides() defaultOverrides {
	overrides := defaultOverrides{
		Concurrency:      intOverride("defaults.concurrency"),
		TimeoutSecs:      intOverride("defaults.timeout_secs"),
		CheckBudgetSecs:  intOverride("defaults.check_budget_secs"),
		RateLimit:        intOverride("defaults.rate_limit"),
		TelemetryEnabled: boolOverride("defaults.telemetry"),
		Output:           viper.GetString("defaults.output"),

		Host:         viper.GetString("target.host"),
		Port:         intOverride("target.port"),
		User:         viper.GetString("target.user"),
		IdentityFile: viper.GetString("target.identity_file"),
		KnownHosts:   viper.GetString("target.known_hosts"),
		Insecure:     boolOverride("target.insecure"),
	}

	if viper.IsSet("defaults.operator") {
		overrides.Operator = viper.GetString("defaults.operator")
		overrides.OperatorOverride = true
	}

	return overrides
}

// applyConfigDefaults merges config file defaults into the runtime config when the user
// did not explicitly override the corresponding flag.
func applyConfigDefaults(cmd *cobra.Command, cfg *CLIConfig) {
	overrides := loadDefaultOverrides()
	flags := cmd.Flags()

	if overrides.OperatorOverride && overrides.Operator != "" {
		cfg.Defaults.Operator = overrides.Operator
		setStringFlagIfUnset(flags, "operator", overrides.Operator)
	}

	if overrides.Concurrency != nil {
		applyIntDefault(flags, "concurrency", *overrides.Concurrency, func(v int) {
			cfg.Defaults.Concurrency = v
			cfg.Run.Concurrency = v
		})
	}

	if overrides.TimeoutSecs != nil {
		applyIntDefault(flags, "timeout", *overrides.TimeoutSecs, func(v int) {
			cfg.Defaults.TimeoutSecs = v
			cfg.Run.TimeoutSecs = v
		})
	}

	if overrides.CheckBudgetSecs != nil {
		applyIntDefault(flags, "check-budget", *overrides.CheckBudgetSecs, func(v int) {
			cfg.Run.CheckBudgetSecs = v
		})
	}

	if overrides.RateLimit != nil {
		applyIntDefault(flags, "rate-limit", *overrides.RateLimit, func(v int) {
			cfg.Run.RateLimit = v
		})
	}

	if overrides.TelemetryEnabled != nil {
		applyBoolDefault(flags, "telemetry", *overrides.TelemetryEnabled, func(v bool) {
			cfg.Defaults.TelemetryEnabled = v
			cfg.Run.TelemetryEnabled = v
		})
	}

	if overrides.Output != "" {
		cfg.Defaults.Output = overrides.Output
		setStringFlagIfUnset(flags, "output", overrides.Output)
	}

	// A configured host implies an ssh target unless --target says otherwise.
	if overrides.Host != "" {
		setStringFlagIfUnset(flags, "host", overrides.Host)
		setStringFlagIfUnset(flags, "target", "ssh")
	}
	if overrides.Port != nil {
		applyIntDefault(flags, "port", *overrides.Port, func(v int) {
			cfg.Run.Target.Port = v
		})
	}
	setStringFlagIfUnset(flags, "user", overrides.User)
	setStringFlagIfUnset(flags, "identity", overrides.IdentityFile)
	setStringFlagIfUnset(flags, "known-hosts", overrides.KnownHosts)
	if overrides.Insecure != nil {
		applyBoolDefault(flags, "insecure", *overrides.Insecure, func(v bool) {
			cfg.Run.Target.Insecure = v
		})
	}
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyBoolDefault(flags *pflag.FlagSet, name string, value bool, setter func(bool)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func setStringFlagIfUnset(flags *pflag.FlagSet, name, value string) {
	if flags == nil || value == "" {
		return
	}
	flag := flags.Lookup(name)
	if flag == nil || flag.Changed {
		return
	}
	_ = flag.Value.Set(value)
}
