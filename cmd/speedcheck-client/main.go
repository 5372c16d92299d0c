package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/robertodauria/speedcheck/client"
	"github.com/robertodauria/speedcheck/client/config"
	"github.com/robertodauria/speedcheck/client/emitter"
	"github.com/robertodauria/speedcheck/internal/feed"
	"github.com/robertodauria/speedcheck/internal/metrics"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"go.uber.org/zap"
)

var (
	flagServer   = flag.String("server", "", "Server base URL, overrides the configuration file")
	flagConfig   = flag.String("config", "", "Path to a YAML configuration file")
	flagFormat   = flagx.Enum{Options: []string{"human", "json"}, Value: "human"}
	flagFeed     = flag.String("feed", "", "Listen address for the websocket event feed and status endpoint")
	flagSchedule = flag.Bool("schedule", false, "Run repeatedly, at random intervals, until interrupted")
	flagExpected = flag.Duration("schedule.expected", time.Hour, "Expected time between scheduled runs")
	flagMin      = flag.Duration("schedule.min", 10*time.Minute, "Minimum time between scheduled runs")
	flagMax      = flag.Duration("schedule.max", 4*time.Hour, "Maximum time between scheduled runs")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
)

func init() {
	flag.Var(&flagFormat, "format", "Output format (human or json)")
}

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	rtx.Must(err, "Could not create logger")
	return logger
}

func loadConfig() *config.ClientConfig {
	cfg := config.NewDefault()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		rtx.Must(err, "Could not load configuration from %s", *flagConfig)
	}
	if *flagServer != "" {
		cfg.Server = *flagServer
	}
	rtx.Must(cfg.Validate(), "Invalid configuration")
	return cfg
}

func printSummary(s *results.Summary) {
	fmt.Printf("Server:   %s\n", s.Server)
	fmt.Printf("Latency:  %.2f ms\n", s.Latency.Milliseconds())
	fmt.Printf("Download: %.2f Mb/s\n", s.Download.Mbps)
	fmt.Printf("Upload:   %.2f Mb/s\n", s.Upload.Mbps)
}

// serveFeed exposes the event feed and the client's status on addr.
func serveFeed(addr string, f *feed.Feed, c *client.Client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/v1/events", f)
	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
			zap.L().Sugar().Debugw("Cannot write status", "error", err)
		}
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			zap.L().Sugar().Errorw("Feed server failed", "address", addr, "error", err)
		}
	}()
	return srv
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")
	os.Exit(run())
}

// run performs the measurements and returns the process exit code.
func run() int {
	logger := newLogger(*flagDebug)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg := loadConfig()

	emitters := emitter.Multi{metrics.Emitter{}}
	if flagFormat.Value == "json" {
		emitters = append(emitters, emitter.NewJSON(os.Stdout))
	} else {
		emitters = append(emitters, &emitter.LogEmitter{})
	}
	var f *feed.Feed
	if *flagFeed != "" {
		f = feed.New()
		emitters = append(emitters, f)
	}
	c := client.NewWithConfig(cfg, emitters)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f != nil {
		srv := serveFeed(*flagFeed, f, c)
		defer srv.Close()
	}

	if !*flagSchedule {
		summary, err := c.Run(ctx)
		if err != nil {
			zap.L().Sugar().Errorw("Speed test failed", "error", err)
			return 1
		}
		if flagFormat.Value == "human" {
			printSummary(summary)
		}
		return 0
	}

	promServer := prometheusx.MustServeMetrics()
	defer promServer.Close()

	ticker, err := memoryless.NewTicker(ctx, memoryless.Config{
		Expected: *flagExpected,
		Min:      *flagMin,
		Max:      *flagMax,
	})
	rtx.Must(err, "Invalid schedule")
	defer ticker.Stop()

	for {
		if _, err := c.Run(ctx); err != nil {
			// The next scheduled run starts over from a clean state.
			zap.L().Sugar().Warnw("Scheduled speed test failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}
