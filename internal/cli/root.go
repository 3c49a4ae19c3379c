package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/tidemark/internal/logger"
	"github.com/roach88/tidemark/internal/planner"
)

// EnvPrefix prefixes the environment variables bound to global flags, e.g.
// TIDEMARK_STORE for --store.
const EnvPrefix = "TIDEMARK"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Store       string // HWM store path
	StoreKind   string // sqlite | yaml | memory
	Process     string // scopes HWM identities
	LogLevel    string
	LogEnv      string // dev | prod
	Pushgateway string

	// IDs overrides plan id generation. Nil uses UUIDv7.
	IDs planner.IDGenerator

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// boundFlags are the persistent flags that can also be set from the
// environment.
var boundFlags = []string{"store", "store-kind", "process", "log-level", "log-env", "pushgateway"}

// NewRootCommand creates the root command for the tidemark CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	opts.v = viper.New()
	opts.v.SetEnvPrefix(EnvPrefix)
	opts.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	opts.v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "tidemark",
		Short: "tidemark - incremental extraction planner",
		Long: `Plans reads of relational and document sources and tracks their
high-water marks, so each run reads only the rows added since the last
successful one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.load()
			level := opts.LogLevel
			if opts.Verbose {
				level = "debug"
			}
			return logger.Init(logger.Logging{Env: opts.LogEnv, Level: level, Out: cmd.ErrOrStderr()})
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("store", "", "HWM store path (default from config, else "+defaultSQLitePath+")")
	flags.String("store-kind", "", "HWM store kind: sqlite, yaml or memory (default from config, else sqlite)")
	flags.String("process", "", "scope HWM identities to this process name")
	flags.String("log-level", "warn", "log level")
	flags.String("log-env", "prod", "log format: dev (console) or prod (JSON)")
	flags.String("pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	for _, name := range boundFlags {
		// BindPFlag only fails for a nil flag.
		_ = opts.v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewHWMCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewDialectsCommand(opts))

	return cmd
}

// load resolves the env-bindable flags: flag, then TIDEMARK_* env, then the
// flag default.
func (o *RootOptions) load() {
	o.Store = o.v.GetString("store")
	o.StoreKind = o.v.GetString("store-kind")
	o.Process = o.v.GetString("process")
	o.LogLevel = o.v.GetString("log-level")
	o.LogEnv = o.v.GetString("log-env")
	o.Pushgateway = o.v.GetString("pushgateway")
}

// formatter returns the OutputFormatter of cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
