package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/newsdigest/internal/app"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var summaryJSON bool

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and deliver the digest",
	Long: `Fetch recent mail from every configured account, build the digest and
hand it to the configured sinks.

Exit status is non-zero when the run fails. A degraded run (some accounts or
items failed, or the deadline cut work short) still delivers and exits 0.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Duration("timeout", 0, "overall run deadline (default from run.timeout)")
	runCmd.Flags().String("source-dir", "", "read messages from this directory (dir source)")
	runCmd.Flags().String("output-dir", "", "write digests to this directory")
	runCmd.Flags().String("provider", "", "LLM provider (openai, anthropic, ollama, gemini)")
	runCmd.Flags().String("model", "", "LLM model name")
	runCmd.Flags().BoolVar(&summaryJSON, "json", false, "print the run summary as JSON on stdout")

	_ = viper.BindPFlag("run.timeout", runCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("sources.dir", runCmd.Flags().Lookup("source-dir"))
	_ = viper.BindPFlag("delivery.output_dir", runCmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("llm.provider", runCmd.Flags().Lookup("provider"))
	_ = viper.BindPFlag("llm.model", runCmd.Flags().Lookup("model"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if verbose {
		fmt.Fprintf(os.Stderr, "Accounts: %d\n", len(cfg.Sources.Accounts))
		fmt.Fprintf(os.Stderr, "Provider: %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Fprintf(os.Stderr, "Timeout: %v\n", cfg.Run.Timeout)
		fmt.Fprintln(os.Stderr)
	}

	out, runErr := a.RunOnce(ctx)
	if out != nil && out.Result != nil {
		if summaryJSON {
			if err := writeSummaryJSON(os.Stdout, out.Result.Run); err != nil {
				return err
			}
		} else {
			printSummary(os.Stderr, out.Result.Run)
		}
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func writeSummaryJSON(w io.Writer, run *model.PipelineRun) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Status string `json:"status"`
		*model.PipelineRun
	}{run.Status(), run})
}

// printSummary writes the human readable run report
func printSummary(w io.Writer, run *model.PipelineRun) {
	mark := "✓"
	switch run.Status() {
	case model.StatusDegraded:
		mark = "⚠"
	case model.StatusFailed:
		mark = "✗"
	}

	fmt.Fprintf(w, "%s Run %s %s in %v\n", mark, run.ID, run.Status(), run.Duration().Round(time.Millisecond))
	c := run.Counts
	fmt.Fprintf(w, "  %d messages from %d accounts (%d excluded)\n", c.Fetched, c.Accounts, c.Excluded)
	fmt.Fprintf(w, "  %d classified, %d newsworthy\n", c.Classified, c.Newsworthy)
	fmt.Fprintf(w, "  %d stories merged into %d clusters\n", c.Candidates, c.Clusters)

	totals := run.Totals()
	fmt.Fprintf(w, "  %d model calls, %d retries, %d reprompts, %d cache hits\n",
		totals.ModelCalls, totals.Retries, totals.Reprompts, totals.CacheHits)

	if run.DeadlineExceeded {
		fmt.Fprintf(w, "  deadline exceeded, remaining work was skipped\n")
	}
	if len(run.Failures) > 0 {
		fmt.Fprintf(w, "  %d failures:\n", len(run.Failures))
		for i, f := range run.Failures {
			if i == 10 {
				fmt.Fprintf(w, "    ... and %d more\n", len(run.Failures)-i)
				break
			}
			target := f.ItemID
			if target == "" {
				target = f.Account
			}
			fmt.Fprintf(w, "    %s %s: %s\n", f.Stage, target, f.Kind)
		}
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", run.Error)
	}
}
