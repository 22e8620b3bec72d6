package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/groundwater/internal/api"
	"github.com/sells-group/groundwater/internal/auth"
	"github.com/sells-group/groundwater/internal/dashboard"
	"github.com/sells-group/groundwater/internal/observability"
	"github.com/sells-group/groundwater/internal/store"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		st, err := initStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		srv := api.NewServer(fmt.Sprintf(":%d", cfg.Server.Port), serverDeps(st, observability.NewMetrics()))

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	},
}

// serverDeps wires the API services onto st.
func serverDeps(st store.Store, metrics *observability.Metrics) api.Deps {
	return api.Deps{
		Dashboard:   dashboard.NewService(st, clockwork.NewRealClock(), cfg.Dashboard.MaxConcurrency),
		Auth:        auth.NewService(st, cfg.Auth.BcryptCost),
		Health:      st,
		Metrics:     metrics,
		CORSOrigins: cfg.Server.CORSOrigins,
		SigninRPS:   cfg.Server.SigninRPS,
		SigninBurst: cfg.Server.SigninBurst,
		TrustProxy:  cfg.Server.TrustProxy,
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
