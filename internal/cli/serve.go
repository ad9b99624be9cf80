package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ppiankov/newsdigest/internal/app"
	"github.com/ppiankov/newsdigest/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP trigger",
	Long: `Serve GET /health and POST /run-pipeline.

When server.verify_token is set, POST /run-pipeline requires a matching
X-Verify-Token header. With server.async the request is answered with 202
and the run continues in the background.`,
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

		return server.New(a, logger, server.Options{
			Addr:            cfg.Server.Addr,
			VerifyToken:     cfg.Server.VerifyToken,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Async:           cfg.Server.Async,
		}).Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	serveCmd.Flags().Bool("async", false, "answer 202 and run in the background")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.async", serveCmd.Flags().Lookup("async"))

	rootCmd.AddCommand(serveCmd)
}
