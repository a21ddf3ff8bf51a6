package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"voicechat/internal/bootstrap"
	"voicechat/internal/domain"
)

type rootOptions struct {
	configFile  string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "voicechat",
		Short: "Push-to-talk voice chat with a conversational server",
		Long: `voicechat records the microphone, transcribes each recording, sends the
text to the conversational server and speaks the replies.

Commands are read from stdin, one per line:
  r  start or stop recording
  s  stop speaking
  l  list the conversation
  ?  show status
  q  quit`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configFile != "" {
				if err := os.Setenv("VOICECHAT_CONFIG", opts.configFile); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "YAML config file (overrides VOICECHAT_CONFIG)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides VOICECHAT_METRICS_ADDR)")
	return cmd
}

func run(ctx context.Context, opts *rootOptions, in io.Reader, out io.Writer) error {
	app := NewApp(out)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	services, err := bootstrap.Build(app, reg)
	if err != nil {
		app.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}
	defer services.Close()
	app.Attach(services.Controller)

	addr := opts.metricsAddr
	if addr == "" {
		addr = services.Config.Metrics.Addr
	}
	if addr != "" {
		server := serveMetrics(addr, reg, services.Logger.Error)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	return app.Run(ctx, in)
}

func serveMetrics(addr string, reg *prometheus.Registry, logError func(string, ...any)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logError("metrics listener failed", "addr", addr, "error", err)
		}
	}()
	return server
}
