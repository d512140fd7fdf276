package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/api"
	"github.com/Veraticus/spice-rules/internal/certs"
	"github.com/Veraticus/spice-rules/internal/cli"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "Listen port (default from config)")
	cmd.Flags().Bool("tls", false, "Serve HTTPS with a self-signed localhost certificate")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	interruptHandler := cli.NewInterruptHandler(nil)
	ctx, stop := interruptHandler.HandleInterrupts(cmd.Context(), "Shutting down the API server.")
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := api.DefaultConfig()
	if a.cfg.Server.Port != 0 {
		cfg.Port = a.cfg.Server.Port
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = a.cfg.Server.AllowedOrigins
	}

	useTLS, _ := cmd.Flags().GetBool("tls")
	if useTLS || a.cfg.Server.TLS {
		store := certs.NewStore(a.cfg.Server.CertDir)
		tlsConfig, err := store.TLSConfig()
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		cfg.TLS = tlsConfig
		a.logger.Info("Serving HTTPS", "cert", store.CertFile())
	}

	server := api.NewServer(cfg, a.services(), a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
