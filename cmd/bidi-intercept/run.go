package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marrasen/bidi"
	"github.com/marrasen/bidi/internal/config"
	"github.com/marrasen/bidi/internal/logging"
	"github.com/marrasen/bidi/journal"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Intercept requests until interrupted",
	Long: `Run registers one intercept on the session and decides every paused request.

Requests whose URL starts with --match-prefix are redirected to --redirect-to;
everything else continues unmodified. With --navigate the given browsing
context is navigated once interception is active.

Examples:
  bidi-intercept run --url ws://127.0.0.1:9222/session
  bidi-intercept run --url ws://127.0.0.1:9222/session \
      --match-prefix https://example.com/ --redirect-to https://example.org/ \
      --navigate https://example.com/ --context 8A1F...`,
	RunE: runIntercept,
}

func init() {
	runCmd.Flags().String("url", "", "BiDi WebSocket URL (overrides session.url)")
	runCmd.Flags().String("match-prefix", "", "Only handle requests whose URL has this prefix")
	runCmd.Flags().String("redirect-to", "", "Continue matching requests against this URL")
	runCmd.Flags().String("navigate", "", "Navigate --context to this URL once intercepting")
	runCmd.Flags().String("context", "", "Browsing context id for --navigate")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func runIntercept(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Session.URL = url
	}
	if cfg.Session.URL == "" {
		return errors.New("no session url: pass --url or set session.url")
	}
	navigate, _ := cmd.Flags().GetString("navigate")
	contextID, _ := cmd.Flags().GetString("context")
	if navigate != "" && contextID == "" {
		return errors.New("--navigate needs --context")
	}

	log, logCloser, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observers []bidi.DispatchObserver
	var jr *journal.Journal
	if cfg.Journal.Enabled {
		jr, err = journal.Open(cfg.Journal.DSN, log)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jr.Close()
		observers = append(observers, jr)
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, log)
		defer srv.Shutdown(context.Background())
	}

	network := bidi.NewNetworkURL(cfg.Session.URL, bidi.NetworkOptions{
		HandlerTimeout: cfg.Network.HandlerTimeout,
		Contexts:       cfg.Network.Contexts,
		Observers:      observers,
		Logger:         &log,
		Session:        bidi.SessionOptions{CommandTimeout: cfg.Session.CommandTimeout},
	})

	filter, handler := requestPipeline(cmd)
	intercept, err := network.AddRequestHandler(ctx, filter, handler)
	if err != nil {
		network.Close(context.Background())
		return fmt.Errorf("add request handler: %w", err)
	}
	log.Info().Str("url", cfg.Session.URL).Str("intercept", intercept).Msg("intercepting")

	session, err := network.Session(ctx)
	if err != nil {
		return err
	}
	if navigate != "" {
		res, err := bidi.NewBrowsingContext(session).Navigate(ctx, contextID, navigate)
		if err != nil {
			log.Error().Err(err).Str("url", navigate).Msg("navigate failed")
		} else {
			log.Info().Str("url", res.URL).Str("navigation", res.Navigation).Msg("navigated")
		}
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case <-session.Done():
		log.Error().Err(session.Err()).Msg("session lost")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := network.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("close")
	}

	if jr != nil {
		if summary, err := jr.Summary(closeCtx); err == nil {
			ev := log.Info()
			for outcome, count := range summary {
				ev = ev.Int64(outcome, count)
			}
			ev.Msg("journal summary")
		}
	}
	return nil
}

// requestPipeline builds the filter and handler from the command line.
func requestPipeline(cmd *cobra.Command) (bidi.RequestFilter, bidi.RequestHandler) {
	prefix, _ := cmd.Flags().GetString("match-prefix")
	redirect, _ := cmd.Flags().GetString("redirect-to")

	filter := bidi.AcceptAll
	if prefix != "" {
		filter = bidi.URLPrefix(prefix)
	}
	var handler bidi.RequestHandler
	if redirect != "" {
		handler = bidi.Redirect(redirect)
	}
	return filter, handler
}

func serveMetrics(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
