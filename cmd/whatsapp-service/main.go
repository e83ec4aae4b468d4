// Command whatsapp-service bridges one linked WhatsApp device to an HTTP API
// and an automation webhook.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/api"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/app"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/bus"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/config"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/infrastructure/eventbus"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/infrastructure/media"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/infrastructure/webhook"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/infrastructure/whatsapp"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

var (
	configPath string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "whatsapp-service",
	Short: "WhatsApp session bridge with an HTTP send API and webhook relay",
	Long: `Links a single WhatsApp device, keeps the session alive and exposes it over HTTP.

  GET  /api/v1/status          pairing / readiness status
  POST /api/v1/messages/send   send text or a document
  GET  /api/v1/ws              live session and message events

Disconnects and inbound direct messages are posted to WEBHOOK_URL.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger.Init(cfg.Log.Level, cfg.Log.Format)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (environment variables override it)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	events := eventbus.New()
	defer events.Close()
	messageBus := bus.NewMessageBus()

	notifier := webhook.NewNotifier(webhook.Config{
		URL:     cfg.Webhook.URL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Webhook.Timeout,
	})
	if !notifier.Enabled() {
		logger.WarnC("main", "WEBHOOK_URL is not set, disconnect alerts and inbound messages will not be forwarded")
	}

	transport := whatsapp.New(whatsapp.Config{
		StorePath:         cfg.SessionStorePath(),
		PrintQR:           cfg.Session.PrintQR,
		PairingRetryDelay: cfg.Session.PairingRetryDelay,
	})

	container := app.NewContainer(
		transport,
		notifier,
		media.NewFetcher(cfg.Media.FetchTimeout),
		events,
		messageBus,
		app.WatchdogConfig{
			PollInterval:  cfg.Session.WatchdogPollInterval,
			EscalateAfter: cfg.Session.WatchdogEscalateAfter,
		},
	)

	// NewServer may generate the API key, so it runs before anything reads it.
	server := api.NewServer(cfg, container.Sessions, container.Messages, events, messageBus)
	notifier.SetAPIKey(cfg.Gateway.APIKey)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		return container.Relay.Run(gctx, messageBus)
	})

	g.Go(func() error {
		if err := transport.Connect(gctx); err != nil {
			// The API keeps serving status so the operator can see the failure.
			logger.ErrorCF("main", "WhatsApp transport failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
		<-gctx.Done()

		container.Sessions.Close()
		messageBus.Close()
		return transport.Disconnect(context.Background())
	})

	logger.InfoCF("main", "whatsapp-service started", map[string]interface{}{
		"addr":        cfg.Addr(),
		"session_dir": cfg.Session.Dir,
		"version":     version,
	})

	err := g.Wait()
	logger.InfoC("main", "whatsapp-service stopped")
	return err
}
