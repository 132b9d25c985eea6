package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-logger/glog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/config"
	"github.com/microsoft/durabletask-webjobs-go/host"
	"github.com/microsoft/durabletask-webjobs-go/samples"
)

type CLI struct {
	Serve     ServeCmd     `cmd:"" help:"Run a durable task host with the sample functions bound to every configured task hub."`
	Start     StartCmd     `cmd:"" help:"Start an orchestration instance."`
	Raise     RaiseCmd     `cmd:"" help:"Raise an external event on an orchestration instance."`
	Terminate TerminateCmd `cmd:"" help:"Terminate an orchestration instance."`
	Status    StatusCmd    `cmd:"" help:"Show the status of an orchestration instance."`
}

type ServeCmd struct {
	Config string `short:"c" type:"existingfile" help:"Host configuration file (YAML)."`
	DB     string `help:"Path of the sqlite store; overrides the Storage connection."`
}

func (c *ServeCmd) Run() error {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return err
		}
	}
	if c.DB != "" {
		if cfg.Connections == nil {
			cfg.Connections = make(map[string]string)
		}
		cfg.Connections[binding.StorageConnectionName] = c.DB
	}

	logger := newLogger(cfg.Logging)
	tp, err := samples.ConfigureTracing(cfg.Tracing.ZipkinEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warnf("failed to flush traces: %v", err)
		}
	}()

	opts, err := cfg.HostOptions(logger)
	if err != nil {
		return err
	}
	h := host.New(opts...)
	defer h.Close()
	for _, hub := range cfg.Hubs {
		if err := samples.Register(h, hub); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}

	healthServer := health.NewServer()
	reportHealth(healthServer, h)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", cfg.Listen.GRPC)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Errorf("grpc server stopped: %v", err)
		}
	}()

	httpServer := &http.Server{Addr: cfg.Listen.HTTP, Handler: newManagementAPI(h), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server stopped: %v", err)
		}
	}()

	logger.Infof("host %s serving task hubs %s (grpc %s, http %s)", h.ID(), strings.Join(cfg.Hubs, ", "), lis.Addr(), cfg.Listen.HTTP)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	err = h.Stop(shutdownCtx)
	reportHealth(healthServer, h)
	grpcServer.GracefulStop()
	return err
}

func newLogger(cfg config.LoggingConfig) backend.Logger {
	if strings.EqualFold(cfg.Format, "json") {
		return backend.NewStructuredLogger(glog.NewLogger(
			glog.WithWriter(os.Stderr),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(cfg.Level),
		))
	}
	level, _ := backend.ParseLevel(cfg.Level)
	return backend.NewStdLogger(os.Stderr, level)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("durablehost"),
		kong.Description("Host and manage durable task orchestrations."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run())
}
