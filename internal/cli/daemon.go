package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ppiankov/newsdigest/internal/app"
	"github.com/ppiankov/newsdigest/internal/schedule"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runOnStart bool

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the pipeline on a cron schedule",
	Long: `Run the pipeline at every activation of schedule.cron (default
"0 7 * * *", local time). A tick that fires while a run is still in progress
is skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		s, err := schedule.New(cfg.Schedule.Cron, a, logger, runOnStart)
		if err != nil {
			return err
		}
		return s.Run(ctx)
	},
}

func init() {
	daemonCmd.Flags().String("cron", "", "cron schedule (default from schedule.cron)")
	daemonCmd.Flags().BoolVar(&runOnStart, "run-now", false, "also run once at startup")
	_ = viper.BindPFlag("schedule.cron", daemonCmd.Flags().Lookup("cron"))

	rootCmd.AddCommand(daemonCmd)
}
