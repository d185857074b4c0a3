package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/officehub/officechat/internal/config"
	"github.com/officehub/officechat/internal/logging"
	"github.com/officehub/officechat/internal/responder"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const noMessage = "No message provided"

var (
	configFile    string
	debugMode     bool
	logFormat     string
	providerURL   string
	timeout       time.Duration
	tlsSkipVerify bool
	showConfig    bool

	// initErr holds a configuration failure from InitConfig. It is reported
	// as a fault by the responder path instead of aborting the process.
	initErr error
)

// rootCmd answers a single message through the hosted office-space
// assistant application and prints the reply on standard output.
var rootCmd = &cobra.Command{
	Use:   "officechat [message]",
	Short: "Ask the office-space assistant a single question",
	Long: `officechat sends one message to the hosted office-space assistant and
prints the reply on standard output. Diagnostics are written to standard
error. The program always exits successfully; if the assistant cannot be
reached a fixed fallback reply is printed instead.

The credential is read from DASHSCOPE_API_KEY, or from api-key in
.officechat.yml (current directory, then home directory).

Only leading --name flags listed below are read as options. Everything from
the first other argument on is message text, so "-5 desks?" or "help" are
sent as they are. Use -- to end the options explicitly.

Examples:
  officechat "Do you have any offices near the metro?"
  DASHSCOPE_API_KEY=sk-... officechat "What is the monthly rent?"
  officechat --show-config`,
	Args:               cobra.ArbitraryArgs,
	SilenceUsage:       true,
	DisableFlagParsing: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.PersistentFlags()
		flagArgs, rest := splitArgs(flags, args)
		if err := flags.Parse(flagArgs); err != nil {
			return err
		}
		InitConfig()

		if showConfig {
			return printConfig(cmd.OutOrStdout())
		}
		return runOfficeChat(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), rest)
	},
}

// GetRootCommand returns the root command with the version set.
func GetRootCommand(v string) *cobra.Command {
	rootCmd.Version = v
	return rootCmd
}

// InitConfig loads the config file and environment. It runs once the
// leading flags have been parsed so that --config is honoured.
func InitConfig() {
	initErr = config.Init(configFile)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default is ./.officechat.yml or $HOME/.officechat.yml)")
	flags.BoolVar(&debugMode, "debug", false, "enable debug logging")
	flags.StringVar(&logFormat, "log-format", "text", "diagnostic log format: text, logfmt or json")
	flags.StringVar(&providerURL, "provider-url", config.DefaultProviderURL, "base URL of the DashScope API")
	flags.DurationVar(&timeout, "timeout", 0, "overall request timeout (0 uses the transport default)")
	flags.BoolVar(&tlsSkipVerify, "tls-skip-verify", false, "skip TLS certificate verification (WARNING: insecure, use only for self-signed certificates)")
	flags.BoolVar(&showConfig, "show-config", false, "print the effective configuration as YAML and exit")

	bindFlags()
}

func bindFlags() {
	flags := rootCmd.PersistentFlags()
	for _, name := range []string{"debug", "log-format", "provider-url", "timeout", "tls-skip-verify"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// splitArgs separates leading officechat flags from the message. Only
// long-form flags defined on flags are taken; the first argument that is not
// one of them, or the one after "--", starts the message. Shorthand-looking
// text such as "-5 desks?" is therefore never parsed as a flag.
func splitArgs(flags *pflag.FlagSet, args []string) (flagArgs, rest []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flagArgs, args[i+1:]
		}
		if len(arg) <= 2 || !strings.HasPrefix(arg, "--") {
			return flagArgs, args[i:]
		}

		name, _, hasValue := strings.Cut(arg[2:], "=")
		f := flags.Lookup(name)
		if f == nil {
			return flagArgs, args[i:]
		}

		flagArgs = append(flagArgs, arg)
		if !hasValue && f.NoOptDefVal == "" && i+1 < len(args) {
			i++
			flagArgs = append(flagArgs, args[i])
		}
	}
	return flagArgs, nil
}

func runOfficeChat(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(stdout, noMessage)
		return err
	}
	message := args[0]

	cfg, err := loadConfig()
	if err != nil {
		logger := logging.New(stderr, logging.Options{Debug: debugMode, Format: logFormat})
		logger.Error("Exception", "err", err)
		_, err = fmt.Fprintln(stdout, responder.FallbackFault)
		return err
	}

	logger := logging.New(stderr, logging.Options{Debug: cfg.Debug, Format: cfg.LogFormat})
	logger.Info("Processing message", "message", message)
	logConfig(logger, cfg)

	reply := responder.New(cfg, logger).Respond(ctx, message)
	_, err = fmt.Fprintln(stdout, reply)
	return err
}

func loadConfig() (*config.Config, error) {
	if initErr != nil {
		return nil, initErr
	}
	return config.Load()
}

func logConfig(logger *log.Logger, cfg *config.Config) {
	if path := config.ConfigPath(); path != "" {
		logger.Debug("Loaded config file", "path", path)
	}
	logger.Debug("Using provider", "url", cfg.ProviderURL, "app_id", config.AppID, "timeout", cfg.Timeout)
	if cfg.TLSSkipVerify {
		logger.Warn("TLS certificate verification is disabled")
	}
}
