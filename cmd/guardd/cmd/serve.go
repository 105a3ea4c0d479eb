package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/cognito-guard/guard"
	"github.com/jrsteele09/cognito-guard/internal/app"
	"github.com/jrsteele09/cognito-guard/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		displayAppname(c.GetAppName())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, c, app.WithObservers(logEvent))
		if err != nil {
			return fmt.Errorf("[serve] building app: %w", err)
		}
		defer a.Close()

		handler, err := server.New(c, a.Guards)
		if err != nil {
			return fmt.Errorf("[serve] building server: %w", err)
		}

		srv := &http.Server{
			Addr:              c.GetPort(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- listenAndServe(srv) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		return shutdown(srv)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func listenAndServe(srv *http.Server) error {
	log.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func logEvent(e guard.Event) {
	ev := log.Info()
	if e.Kind == guard.EventFailed {
		ev = log.Warn().Err(e.Err)
	}
	ev.Str("event", e.Kind.String()).
		Str("strategy", e.Strategy.String()).
		Str("subject", e.Subject).
		Msg("guard event")
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
