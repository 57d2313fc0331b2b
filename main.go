package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/event_server"
	"github.com/fjlanasa/trainpos/graphs"
	"github.com/fjlanasa/trainpos/metrics"
	"github.com/fjlanasa/trainpos/registry"
	"github.com/fjlanasa/trainpos/sinks"
	"github.com/fjlanasa/trainpos/sources"
	"github.com/reugn/go-streams/extension"
	"github.com/reugn/go-streams/flow"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	defaultConfigPath = "./config/configs/default.yaml"
	outletBuffer      = 1024
)

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML config (CONFIG_PATH takes precedence)",
	}

	app := &cli.App{
		Name:  "trainpos",
		Usage: "ingest Trafikverket train positions per route",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			return run(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "discover vehicles and poll positions until interrupted",
				Flags:  []cli.Flag{configFlag},
				Action: run,
			},
			{
				Name:   "discover",
				Usage:  "print the vehicles discovered for every configured route and save them under data_dir",
				Flags:  []cli.Flag{configFlag},
				Action: discover,
			},
			{
				Name:  "stations",
				Usage: "look up station signatures by name",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: "case-insensitive name substring"},
				},
				Action: stations,
			},
		},
	}

	if err := app.Run(os.Args); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("trainpos failed", "error", err)
		os.Exit(1)
	}
}

// Config path precedence: ENV > flag > CLI arg > default path
func configPath(c *cli.Context) string {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	if c.IsSet("config") {
		return c.String("config")
	}
	if c.Args().Len() > 0 {
		return c.Args().First()
	}
	return defaultConfigPath
}

func setup(c *cli.Context) (*config.Config, context.Context, func(), error) {
	cfg, err := config.ReadConfig(configPath(c))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read config: %w", err)
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	shutdown, err := setupLogging(ctx, cfg.Logging)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return cfg, ctx, func() { shutdown(); stop() }, nil
}

func setupLogging(ctx context.Context, cfg config.LoggingConfig) (func(), error) {
	logUrl := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if logUrl != "" {
		resource := resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("trainpos"),
			semconv.ServiceVersionKey.String("v0.1.0"),
		)
		logExporter, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpoint(logUrl),
			otlploghttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize exporter: %w", err)
		}
		lp := log.NewLoggerProvider(
			log.WithProcessor(
				log.NewBatchProcessor(logExporter),
			),
			log.WithResource(resource),
		)
		slog.SetDefault(otelslog.NewLogger("trainpos", otelslog.WithLoggerProvider(lp)))
		return func() {
			if err := lp.Shutdown(context.Background()); err != nil {
				fmt.Printf("failed to shutdown logger provider: %v\n", err)
			}
		}, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var out io.Writer = os.Stderr
	closeFile := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFile = func() { f.Close() }
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closeFile, nil
}

func run(c *cli.Context) error {
	cfg, ctx, shutdown, err := setup(c)
	if err != nil {
		return err
	}
	defer shutdown()

	slog.Info("Starting trainpos", "routes", len(cfg.Routes))

	collector := metrics.NewCollector()
	if cfg.Metrics.Addr != "" {
		srv := collector.Serve(cfg.Metrics.Addr)
		defer srv.Close()
	}

	var outlet chan any
	if cfg.EventServer != nil {
		outlet = make(chan any, outletBuffer)
		eventServer := event_server.NewEventServer(ctx, *cfg.EventServer)
		defer eventServer.Close()
		go extension.NewChanSource(outlet).Via(flow.NewPassThrough()).To(sinks.NewHttpSink(ctx, eventServer))
	}

	graph, err := graphs.NewGraph(ctx, cfg, graphs.WithOutlet(outlet), graphs.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("failed to create graph: %w", err)
	}
	defer func() {
		if err := graph.Close(); err != nil {
			slog.Error("failed to close graph", "error", err)
		}
	}()
	if _, err := graph.Registry().WriteVehicleFiles(cfg.DataDir); err != nil {
		slog.Warn("failed to save discovered vehicles", "error", err)
	}

	err = graph.Run(ctx)
	fmt.Println("\nShutting down...")
	return err
}

func discover(c *cli.Context) error {
	cfg, ctx, shutdown, err := setup(c)
	if err != nil {
		return err
	}
	defer shutdown()

	source := sources.NewHTTPSource(cfg.Source).WithDiscovery(cfg.Discovery)
	routes := make([]registry.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, registry.RouteFromConfig(r))
	}
	reg, err := registry.Build(ctx, routes, sources.NewDiscoverer(source))
	if err != nil {
		return err
	}
	for _, route := range reg.Routes() {
		fmt.Printf("%s\t%v\t%v\n", route.ID, route.Stations, reg.Vehicles(route.ID))
	}
	paths, err := reg.WriteVehicleFiles(cfg.DataDir)
	if err != nil {
		return err
	}
	slog.Info("wrote vehicle files", "dir", cfg.DataDir, "files", len(paths))
	return nil
}

func stations(c *cli.Context) error {
	cfg, ctx, shutdown, err := setup(c)
	if err != nil {
		return err
	}
	defer shutdown()

	source := sources.NewHTTPSource(cfg.Source).WithDiscovery(cfg.Discovery)
	found, err := source.Stations(ctx, c.String("filter"))
	if err != nil {
		return err
	}
	for _, s := range found {
		fmt.Printf("%s\t%s\n", s.Signature, s.Name)
	}
	return nil
}
