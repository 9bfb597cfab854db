// Command gatewayd is the gateway's process entrypoint: it loads a
// declarative pipeline config, builds the live pipelines it describes, and
// serves them over HTTP until asked to stop (spec §12).
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aicentral/gateway/internal/config"
	"github.com/aicentral/gateway/internal/dashboard"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/host"
	"github.com/aicentral/gateway/internal/telemetry"
	"github.com/aicentral/gateway/internal/tokenestimate"
	"github.com/aicentral/gateway/internal/upstream"
	"github.com/aicentral/gateway/internal/utils"
)

func main() {
	run(os.Args[1:])
}

func run(args []string) {
	configPath := "gateway.yaml"
	debug := false
	validateOnly := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-c", "--config":
			if i+1 >= len(args) {
				printError("--config requires a value")
				os.Exit(1)
			}
			i++
			configPath = args[i]
		case "--validate-config":
			validateOnly = true
		case "-d", "--debug":
			debug = true
		default:
			printError(fmt.Sprintf("unknown option: %s", args[i]))
			os.Exit(1)
		}
	}

	// Best-effort: most deployments inject env vars directly, a .env file
	// is a local-dev convenience.
	_ = godotenv.Load()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	ctx := context.Background()
	deps := config.Deps{
		Client:    upstream.NewClient(upstream.DefaultClientConfig()),
		Estimator: tokenestimate.New(),
		Recorder:  telemetry.NewPrometheusRecorder(prometheus.DefaultRegisterer),
	}

	built, err := config.Build(ctx, cfg, deps)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	if validateOnly {
		printResolvedPipelines(built)
		return
	}

	var dashboardHandler http.HandlerFunc
	if cfg.Server.DashboardEnable {
		dashboardHandler = dashboard.Handler(built)
	}

	h := host.New(built, cfg.Server.MetricsPath, cfg.Server.DashboardPath, dashboardHandler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() {
		printStep(fmt.Sprintf("listening on %s", cfg.Server.Addr))
		serveErrCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("gatewayd: server exited")
			os.Exit(1)
		}
	case sig := <-sigCh:
		signal.Stop(sigCh)
		signal.Reset(syscall.SIGINT, syscall.SIGTERM)
		printInfo(fmt.Sprintf("received %s, draining", sig))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("gatewayd: graceful shutdown failed")
			os.Exit(1)
		}
		printInfo("shut down cleanly")
	}
}

func printResolvedPipelines(built *config.Built) {
	printHeader("Resolved pipeline configuration")
	for _, h := range built.ByName {
		printStep(fmt.Sprintf("%s -> %s", h.Name, h.Hostname))
		for _, d := range h.Pipeline.Selector.Flatten() {
			desc := d.Descriptor()
			printInfo(fmt.Sprintf("  endpoint %-12s kind=%-12s base_url=%-40s credential=%s",
				desc.ID, desc.Kind, desc.BaseURL, maskedCredential(desc)))
		}
		if len(h.Bulkheads) > 0 {
			printInfo(fmt.Sprintf("  %d bulkhead step(s)", len(h.Bulkheads)))
		}
	}
	printInfo("config OK")
}

// maskedCredential renders an endpoint's configured secret compactly for
// the --validate-config table, short enough to fit alongside the other
// columns on one line.
func maskedCredential(desc *endpoint.Descriptor) string {
	switch {
	case desc.TokenCredential != nil && desc.APIKey == "":
		return "(AAD token)"
	case desc.APIKey != "":
		return utils.MaskKeyShort(desc.APIKey)
	case desc.BearerKey != "":
		return utils.MaskKeyShort(desc.BearerKey)
	default:
		return "(none)"
	}
}
