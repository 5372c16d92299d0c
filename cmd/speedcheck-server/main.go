package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/robertodauria/speedcheck/internal/congestion"
	"github.com/robertodauria/speedcheck/internal/handler"
	"go.uber.org/zap"
)

var (
	flagEndpoint = flag.String("listen", ":8080", "Listen address/port for speed test requests")
	flagCC       = flag.String("cc", "", "TCP congestion control algorithm for accepted connections, e.g. bbr (Linux only)")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
)

// connContext tags the connection and selects its congestion control.
func connContext(ctx context.Context, c net.Conn) context.Context {
	if *flagCC != "" {
		if err := congestion.Set(c, *flagCC); err != nil {
			zap.L().Sugar().Warnw("Cannot set congestion control", "cc", *flagCC, "error", err)
		}
	}
	return handler.ConnContext(ctx, c)
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

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	logger := newLogger(*flagDebug)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	gin.SetMode(gin.ReleaseMode)

	promServer := prometheusx.MustServeMetrics()
	defer promServer.Close()

	h, err := handler.New()
	rtx.Must(err, "Could not generate the download payload")
	srv := &http.Server{
		Addr:              *flagEndpoint,
		Handler:           handler.NewRouter(h),
		ConnContext:       connContext,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Sugar().Warnw("Shutdown failed", "error", err)
		}
	}()

	zap.L().Sugar().Infow("About to listen for speed tests", "address", *flagEndpoint,
		"commit", prometheusx.GitShortCommit)
	err = srv.ListenAndServe()
	if err != http.ErrServerClosed {
		rtx.Must(err, "Could not start speedcheck server")
	}
}
