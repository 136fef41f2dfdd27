package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DrSkyle/eviid/internal/app"
	"github.com/DrSkyle/eviid/pkg/engine"
	"github.com/DrSkyle/eviid/pkg/resources"
)

func addReleaseFlag(cmd *cobra.Command) {
	cmd.Flags().String("release", "r1", "Release identifier")
}

func addPublishFlag(cmd *cobra.Command) {
	cmd.Flags().String("publish", "", "Upload outputs to s3://bucket/prefix")
}

// bindLocal binds the running command's own flags. Sibling commands share
// flag names, so binding happens at run time rather than construction.
func bindLocal(v *viper.Viper, cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = v.BindPFlag(name, f)
		}
	}
}

func newSummarizeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Bucket evidence logs into monitoring windows",
		Long: `Reads the decision and event logs and writes one summary per window
plus the rollup under out/evidence/monitoring/.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, v, func(ctx context.Context, eng *engine.Engine) error {
				sum, err := eng.Summarize(ctx)
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Assemble OSCAL documents for a release",
		Long: `Evaluates every catalog control against the persisted rollup and
CI/CD gates, writes the OSCAL documents under out/oscal/<release>/, and
verifies every linked evidence file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindLocal(v, cmd, "release", "publish")
			release, err := app.Release(v)
			if err != nil {
				return err
			}
			return withEngine(cmd, v, func(ctx context.Context, eng *engine.Engine) error {
				res, err := eng.Export(ctx, release)
				if res != nil {
					printExport(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}
	addReleaseFlag(cmd)
	addPublishFlag(cmd)
	return cmd
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Summarize evidence, then export a release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindLocal(v, cmd, "release", "publish")
			release, err := app.Release(v)
			if err != nil {
				return err
			}
			return withEngine(cmd, v, func(ctx context.Context, eng *engine.Engine) error {
				sum, res, err := eng.Run(ctx, release)
				if sum != nil {
					printSummary(cmd.OutOrStdout(), sum)
				}
				if res != nil {
					printExport(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}
	addReleaseFlag(cmd)
	addPublishFlag(cmd)
	return cmd
}

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every evidence file linked by a release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindLocal(v, cmd, "release", "publish")
			release, err := app.Release(v)
			if err != nil {
				return err
			}
			return withEngine(cmd, v, func(ctx context.Context, eng *engine.Engine) error {
				rep, err := eng.Verify(ctx, release)
				if rep.Checked > 0 || rep.Failed > 0 {
					printVerification(cmd.OutOrStdout(), release, rep)
				}
				return err
			})
		},
	}
	addReleaseFlag(cmd)
	return cmd
}

func newCoverageCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Write coverage, staleness, and delta tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, v, func(ctx context.Context, eng *engine.Engine) error {
				tables, err := eng.Coverage(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, titleStyle.Render("COVERAGE"))
				for _, t := range tables {
					fmt.Fprintf(out, "  %-28s %d rows\n", t.Name, len(t.Rows))
				}
				return nil
			})
		},
	}
}

func printSummary(out io.Writer, sum *engine.Summary) {
	fmt.Fprintln(out, titleStyle.Render("SUMMARY"))
	fmt.Fprintf(out, "  windows      %d\n", len(sum.Rollup.Windows))
	fmt.Fprintf(out, "  events       %d (%d skipped)\n", sum.Events.Parsed, sum.Events.Skipped)
	fmt.Fprintf(out, "  decisions    %d (%d skipped)\n", sum.Decisions.Parsed, sum.Decisions.Skipped)
	fmt.Fprintf(out, "  deletions    %d\n", sum.Deletions)
	if sum.Rollup.QuarantinedEvents > 0 {
		fmt.Fprintf(out, "  quarantined  %d\n", sum.Rollup.QuarantinedEvents)
	}
	fmt.Fprintln(out)
}

func printExport(out io.Writer, res *engine.ExportResult) {
	fmt.Fprintln(out, titleStyle.Render("RELEASE "+res.ReleaseID))
	for _, v := range res.Assessment.Verdicts {
		mark := okStyle.Render("present")
		if !v.Present {
			mark = failStyle.Render("missing")
		}
		fmt.Fprintf(out, "  %-12s %-20s %s\n", v.ControlID, v.Category, mark)
	}
	fmt.Fprintf(out, "\n  findings %d, resources %d\n", res.Entry.Findings, res.Entry.Resources)
	for _, f := range res.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	fmt.Fprintln(out)
}

func printVerification(out io.Writer, release string, rep resources.Report) {
	fmt.Fprintln(out, titleStyle.Render("VERIFY "+release))
	for _, c := range rep.Resources {
		status := okStyle.Render(string(c.Status))
		if c.Status != resources.StatusOK {
			status = failStyle.Render(string(c.Status))
		}
		fmt.Fprintf(out, "  %-8s %s\n", status, c.Href)
	}
	fmt.Fprintf(out, "\n  %d checked, %d failed\n\n", rep.Checked, rep.Failed)
}
