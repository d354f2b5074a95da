// Command blackjackd runs the multi-room blackjack TCP server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mlindqvist/pitboss/internal/admin"
	"github.com/mlindqvist/pitboss/internal/config"
	"github.com/mlindqvist/pitboss/internal/lobby"
	"github.com/mlindqvist/pitboss/internal/metrics"
	"github.com/mlindqvist/pitboss/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.Load()
	var (
		bindIP     string
		port       int
		rooms      int
		maxPlayers int
		verbose    bool
		noAdmin    bool
	)

	cmd := &cobra.Command{
		Use:   "blackjackd",
		Short: "Multi-room blackjack TCP server",
		Long: `blackjackd accepts client connections on a newline-framed TCP
protocol, routes them through a lobby, and runs one or more
blackjack tables with betting, dealing, turns and settlement.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.BindIP = bindIP
			cfg.Port = port
			cfg.Rooms = rooms
			cfg.MaxPlayers = maxPlayers
			cfg.AdminEnabled = !noAdmin
			return run(cfg, verbose)
		},
	}

	cmd.Flags().StringVarP(&bindIP, "i", "i", cfg.BindIP, "IP address to bind to")
	cmd.Flags().IntVarP(&port, "p", "p", cfg.Port, "TCP port to listen on")
	cmd.Flags().IntVarP(&rooms, "r", "r", cfg.Rooms, "Number of rooms")
	cmd.Flags().IntVarP(&maxPlayers, "m", "m", cfg.MaxPlayers, "Maximum concurrent players")
	cmd.Flags().BoolVarP(&verbose, "v", "v", false, "Enable debug logging")
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "Disable the /healthz and /metrics HTTP surface")

	return cmd
}

func run(cfg config.Config, verbose bool) error {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	mx := metrics.New()
	lb := lobby.New(cfg.Rooms, cfg.MinBet, cfg.MaxBet, cfg.MaxPlayers, cfg.RecoveryTTL, logger)

	addr := net.JoinHostPort(cfg.BindIP, fmt.Sprintf("%d", cfg.Port))
	srv := server.New(addr, cfg.MaxPlayers, lb, logger, mx)

	var adminSrv *admin.Server
	if cfg.AdminEnabled {
		adminAddr := net.JoinHostPort(cfg.BindIP, fmt.Sprintf("%d", cfg.AdminPort))
		adminSrv = admin.New(adminAddr, mx, logger)
		go func() {
			if err := adminSrv.Run(); err != nil {
				logger.WithError(err).Error("admin server exited")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run blocks until ctx is cancelled (SIGINT/SIGTERM) and performs its
	// own graceful shutdown before returning.
	err := srv.Run(ctx)

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}

	logger.Info("shutdown complete")
	return err
}
