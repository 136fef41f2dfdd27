package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DrSkyle/eviid/internal/app"
	"github.com/DrSkyle/eviid/pkg/engine"
	"github.com/DrSkyle/eviid/pkg/version"
)

// DefaultConfigFile is read from the working directory when --config is not
// given.
const DefaultConfigFile = ".eviid.yaml"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FF99")).
			MarginBottom(1)
	flagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F"))
)

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("[ERROR] ")+err.Error())
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree around its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	app.Configure(v)
	var cfgFile string

	root := &cobra.Command{
		Use:   "eviid",
		Short: "Compliance evidence pipeline for identity services",
		Long: `EviID - Continuous Compliance Evidence

Summarize. Assess. Verify.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v, cfgFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./"+DefaultConfigFile+")")
	pf.String("root", ".", "Repository root holding evidence and outputs")
	pf.String("catalog", "traceability/traceability.yaml", "Control catalog (YAML or HCL)")
	pf.Int64("window-sec", 60, "Window length in seconds")
	pf.String("timestamp-policy", "now", "Events without ts: now or quarantine")
	pf.String("as-of", "", "Pin the analysis time (RFC 3339 or Unix seconds)")
	pf.Bool("json-logs", false, "Emit JSON logs")
	pf.BoolP("verbose", "v", false, "Enable debug logging")
	pf.String("otel-endpoint", "", "OTLP/HTTP endpoint for traces")
	pf.Bool("skip-telemetry", false, "Disable tracing")
	pf.MarkHidden("skip-telemetry")
	bindFlags(v, pf, map[string]string{
		"root":             "root",
		"catalog":          "catalog",
		"window-sec":       "window_sec",
		"timestamp-policy": "timestamp_policy",
		"as-of":            "as_of",
		"json-logs":        "json_logs",
		"verbose":          "verbose",
		"otel-endpoint":    "otel_endpoint",
		"skip-telemetry":   "skip_telemetry",
	})

	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	root.AddCommand(
		newSummarizeCmd(v),
		newExportCmd(v),
		newRunCmd(v),
		newVerifyCmd(v),
		newCoverageCmd(v),
		newVersionCmd(),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

func readConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return nil
	}
	if _, err := os.Stat(DefaultConfigFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(DefaultConfigFile)
	v.SetConfigType("yaml")
	return v.ReadInConfig()
}

// newEngine resolves configuration and starts an engine. Callers must Close
// it.
func newEngine(ctx context.Context, v *viper.Viper) (*engine.Engine, error) {
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return nil, err
	}
	return engine.New(ctx, engine.WithConfig(cfg))
}

func withEngine(cmd *cobra.Command, v *viper.Viper, fn func(context.Context, *engine.Engine) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := newEngine(ctx, v)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(context.Background()); cerr != nil {
			eng.Logger.Warn("Telemetry shutdown failed", "error", cerr)
		}
	}()
	return fn(ctx, eng)
}

func renderHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("EVIID %s", version.Current)))
	fmt.Fprintln(out, "Compliance evidence pipeline for identity services.")

	fmt.Fprintln(out, titleStyle.Render("USAGE"))
	fmt.Fprintf(out, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(out, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, titleStyle.Render("EXAMPLES"))
		fmt.Fprintln(out, "  eviid run --release r1                # Summarize then export")
		fmt.Fprintln(out, "  eviid verify --release r1             # Re-hash linked evidence")
		fmt.Fprintln(out, "  WINDOW_SEC=300 eviid summarize        # Five-minute windows")
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-17s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(out, flagStyle.Render(line))
	})
	fmt.Fprintln(out)
}
