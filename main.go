package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ericogr/airsense-mqtt/pkg/config"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func setupLogger(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return nil
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	var flags *config.Flags

	cmd := &cobra.Command{
		Use:   "airsense",
		Short: "airsense samples gas sensors, calibrates them and publishes the values over MQTT",
		Long: `airsense reads MQ7 (CO), MQ136 (H2S), O2-A2 (oxygen) and light sensors through an
ADS1115, a serial ADC bridge or a simulated bus, compensates them with a BME280
and publishes the results. Calibration is driven over MQTT or the HTTP API.`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags)
			if err != nil {
				return err
			}
			if err := setupLogger(cfg.LogLevel); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"version": Version,
				"commit":  GitCommit,
				"bus":     cfg.Bus.Type,
				"sensors": len(cfg.Sensors),
			}).Info("airsense starting")

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	flags = config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		NewVersionCommand(),
		NewStatusCommand(),
		NewCalibrateCommand(),
	)
	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(c *cobra.Command, _ []string) {
			fmt.Fprintf(c.OutOrStdout(), "airsense %s (%s)\n", Version, GitCommit)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	a, err := newApp(cfg, deps{})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}
