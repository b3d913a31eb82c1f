package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/corkboard-dev/corkboard/pkg/auth"
	"github.com/corkboard-dev/corkboard/pkg/gateway"
	"github.com/corkboard-dev/corkboard/pkg/middleware"
	"github.com/corkboard-dev/corkboard/pkg/relay"
)

func serveCmd() *cobra.Command {
	var (
		addr           string
		jwtSecretEnv   string
		jwtIssuer      string
		heartbeat      time.Duration
		allowAnyOrigin bool
		logJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration gateway",
		Long: `Start the WebSocket gateway on the given address.

Endpoints:
  /ws       WebSocket upgrade (bearer credential in the hello frame)
  /metrics  Prometheus metrics
  /healthz  liveness probe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(jwtSecretEnv)
			if secret == "" {
				return fmt.Errorf("JWT secret env %s is empty", jwtSecretEnv)
			}

			var handler slog.Handler
			if logJSON {
				handler = slog.NewJSONHandler(os.Stderr, nil)
			} else {
				handler = slog.NewTextHandler(os.Stderr, nil)
			}
			logger := slog.New(handler)
			slog.SetDefault(logger)

			registry := relay.NewRegistry()
			rel := relay.New(registry, logger)
			verifier := auth.NewJWTVerifier([]byte(secret), jwtIssuer)

			config := gateway.DefaultConfig()
			config.HeartbeatInterval = heartbeat
			if allowAnyOrigin {
				config.CheckOrigin = func(*http.Request) bool { return true }
			}

			metrics := gateway.NewMetrics(nil)
			gw := gateway.NewServer(registry, rel, verifier, config,
				gateway.WithMetrics(metrics),
				gateway.WithLogger(logger),
			)

			r := chi.NewRouter()
			r.Use(chimw.Recoverer)
			r.Use(middleware.Metrics())
			r.Use(middleware.OTel())
			r.Handle("/ws", gw)
			r.Handle("/metrics", promhttp.Handler())
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})

			srv := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("gateway listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case sig := <-stop:
				logger.Info("shutting down", "signal", sig.String())
				gw.Shutdown()
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&jwtSecretEnv, "jwt-secret-env", "CORKBOARD_JWT_SECRET", "Env var holding the JWT signing secret")
	cmd.Flags().StringVar(&jwtIssuer, "jwt-issuer", "", "Required JWT issuer (empty disables the check)")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 30*time.Second, "WebSocket ping interval")
	cmd.Flags().BoolVar(&allowAnyOrigin, "allow-any-origin", false, "Disable the Origin check (development only)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON")

	return cmd
}
