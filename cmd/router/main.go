// Command router runs a standalone IPv4 router core attached to TAP devices
// or bridged host interfaces, per a YAML configuration file.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/soypat/ip4rt/config"
	"github.com/soypat/ip4rt/router"
)

func main() {
	if err := run(); err != nil {
		log.Fatalln("failed:", err)
	}
}

type cliConfig struct {
	configPath  string
	metricsAddr string
	verbose     bool
}

func loadCLIConfig() cliConfig {
	var c cliConfig
	flag.StringVar(&c.configPath, "config", getenv("IP4RT_CONFIG", "router.yaml"), "path to router YAML configuration")
	flag.StringVar(&c.metricsAddr, "metrics-addr", getenv("IP4RT_METRICS_ADDR", ":9400"), "address to serve Prometheus metrics on")
	flag.BoolVar(&c.verbose, "verbose", getenvBool("IP4RT_VERBOSE", false), "enable debug logging")
	flag.Parse()
	return c
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func run() error {
	cli := loadCLIConfig()
	logger := newLogger(cli.verbose)
	slog.SetDefault(logger)

	file, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Parse(file)
	if err != nil {
		return err
	}
	links, rtable, arpState, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building router from %s: %w", cli.configPath, err)
	}

	ifaces := make([]*router.Interface, len(links))
	for i, l := range links {
		ifaces[i] = l.Iface
	}
	rt := router.NewRouter(ifaces, rtable, arpState, router.SystemClock{}, logger)

	notifyCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rt.RunRetryWorker(notifyCtx)

	metricsSrv := &http.Server{Addr: cli.metricsAddr, Handler: promhttpHandler()}
	go func() {
		logger.Info("serving metrics", slog.String("addr", cli.metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.String("err", err.Error()))
		}
	}()

	for _, l := range links {
		go receiveLoop(notifyCtx, rt, l, logger)
	}

	logger.Info("router started", slog.Int("interfaces", len(links)))
	<-notifyCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return metricsSrv.Shutdown(shutdownCtx)
}

func receiveLoop(ctx context.Context, rt *router.Router, l config.Link, logger *slog.Logger) {
	mtu := l.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	buf := make([]byte, mtu+32) // headroom for the Ethernet header on top of the IP MTU
	for ctx.Err() == nil {
		n, err := l.Reader.Read(buf)
		if err != nil {
			logger.Error("interface read failed", slog.String("iface", l.Iface.Name), slog.String("err", err.Error()))
			return
		}
		if n == 0 {
			continue
		}
		frame := append([]byte(nil), buf[:n]...)
		result := rt.ProcessFrame(l.Iface, frame)
		if result == router.ResultFatal {
			logger.Error("fatal frame processing error, halting interface", slog.String("iface", l.Iface.Name))
			return
		}
	}
}

func promhttpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}
