/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// crpt-submit submits signed goods introduction documents to the remote API.
//
// One-shot mode submits the documents passed as arguments:
//
//	crpt-submit --config config.yml --signature "$SIG" doc1.json doc2.json
//
// Watch mode submits documents dropped into a directory until the process is terminated:
//
//	crpt-submit --config config.yml --signature "$SIG" --watch-dir /var/spool/crpt
package main

import (
	"context"
	"errors"
	"fmt"
	golog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/acronis/go-crptclient/config"
	"github.com/acronis/go-crptclient/crpt"
	"github.com/acronis/go-crptclient/httpclient"
	"github.com/acronis/go-crptclient/log"
	"github.com/acronis/go-crptclient/metricsserver"
	"github.com/acronis/go-crptclient/outbox"
	"github.com/acronis/go-crptclient/ratelimit"
	"github.com/acronis/go-crptclient/service"
)

const (
	envVarsPrefix        = "CRPT"
	signatureEnvVar      = "CRPT_SIGNATURE"
	metricsNamespace     = "crpt"
	defaultWatchInterval = 30 * time.Second
)

func main() {
	if err := runApp(os.Args[1:]); err != nil {
		golog.Fatal(err)
	}
}

type appFlags struct {
	ConfigPath    string
	Signature     string
	WatchDir      string
	WatchInterval time.Duration
	Concurrency   int
	Documents     []string
}

func parseFlags(args []string) (*appFlags, error) {
	flags := &appFlags{}
	fs := pflag.NewFlagSet("crpt-submit", pflag.ContinueOnError)
	fs.StringVarP(&flags.ConfigPath, "config", "c", "", "path to the configuration file (YAML or JSON)")
	fs.StringVarP(&flags.Signature, "signature", "s", os.Getenv(signatureEnvVar),
		"base64-encoded detached signature, "+signatureEnvVar+" is used by default")
	fs.StringVar(&flags.WatchDir, "watch-dir", "", "submit documents dropped into the directory until terminated")
	fs.DurationVar(&flags.WatchInterval, "watch-interval", defaultWatchInterval, "interval between outbox passes in watch mode")
	fs.IntVar(&flags.Concurrency, "concurrency", outbox.DefaultConcurrency, "number of documents submitted simultaneously")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	flags.Documents = fs.Args()

	if flags.WatchDir == "" && len(flags.Documents) == 0 {
		return nil, errors.New("either documents or --watch-dir must be specified")
	}
	if flags.WatchDir != "" && len(flags.Documents) != 0 {
		return nil, errors.New("documents cannot be passed together with --watch-dir")
	}
	if flags.WatchInterval <= 0 {
		return nil, errors.New("--watch-interval must be positive")
	}
	return flags, nil
}

func runApp(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadAppConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	metrics := newAppMetrics()
	client, err := crpt.NewClientFromConfig(cfg.CRPT, crpt.ClientOpts{
		Logger:                  logger,
		HTTPMetricsCollector:    metrics.HTTP,
		LimiterMetricsCollector: metrics.Limiter,
	})
	if err != nil {
		return fmt.Errorf("create crpt client: %w", err)
	}
	defer client.Close()

	if flags.WatchDir != "" {
		return runWatchMode(cfg, flags, client, metrics, logger)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return submitDocuments(ctx, client, flags, logger)
}

// submitDocuments submits all documents concurrently and returns an error if any of them failed.
func submitDocuments(ctx context.Context, submitter outbox.Submitter, flags *appFlags, logger log.FieldLogger) error {
	sem := make(chan struct{}, max(flags.Concurrency, 1))
	errs := make([]error, len(flags.Documents))
	var wg sync.WaitGroup
	for i, path := range flags.Documents {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			if errs[i] = submitDocument(ctx, submitter, path, flags.Signature); errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", path, errs[i])
				logger.Error("document submission failed", log.String("document", path), log.Error(errs[i]))
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func submitDocument(ctx context.Context, submitter outbox.Submitter, path, signature string) error {
	doc, err := outbox.LoadDocument(path)
	if err != nil {
		return err
	}
	result, err := submitter.Submit(ctx, doc, signature)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stdout, "%s: %d %s\n", path, result.StatusCode, strings.TrimSpace(string(result.Body)))
	return err
}

func runWatchMode(
	cfg *AppConfig, flags *appFlags, submitter outbox.Submitter, metrics *appMetrics, logger log.FieldLogger,
) error {
	ob := outbox.New(flags.WatchDir, submitter, outbox.Opts{
		Logger:      logger,
		Signature:   flags.Signature,
		Concurrency: flags.Concurrency,
	})
	// The directory must exist before the watcher is started.
	if err := os.MkdirAll(flags.WatchDir, 0o750); err != nil {
		return fmt.Errorf("create outbox directory: %w", err)
	}

	units := []service.Unit{
		service.NewWorkerUnitWithOpts(
			service.NewPeriodicWorker(ob, flags.WatchInterval, logger.With(log.String("worker", "outbox"))),
			service.WorkerUnitOpts{MetricsRegisterer: metrics},
		),
		service.NewWorkerUnit(outbox.NewNotifyWorker(ob, outbox.NotifyWorkerOpts{Logger: logger})),
	}
	if cfg.MetricsServer.Enabled {
		units = append(units, metricsserver.New(cfg.MetricsServer, logger))
	}
	return service.New(logger, service.NewCompositeUnit(units...)).Start()
}

// appMetrics groups Prometheus collectors of the client. It implements service.MetricsRegisterer.
type appMetrics struct {
	HTTP    *httpclient.PrometheusMetricsCollector
	Limiter *ratelimit.PrometheusMetricsCollector
}

func newAppMetrics() *appMetrics {
	return &appMetrics{
		HTTP:    httpclient.NewPrometheusMetricsCollector(metricsNamespace),
		Limiter: ratelimit.NewPrometheusMetricsCollector(metricsNamespace, "submission"),
	}
}

func (m *appMetrics) MustRegisterMetrics() {
	m.HTTP.MustRegister()
	m.Limiter.MustRegister()
}

func (m *appMetrics) UnregisterMetrics() {
	m.HTTP.Unregister()
	m.Limiter.Unregister()
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfgLoader := config.NewDefaultLoader(envVarsPrefix)
	cfg := NewAppConfig()
	if path == "" {
		// Only defaults and environment variables are used.
		return cfg, cfgLoader.LoadFromReader(strings.NewReader(""), config.DataTypeYAML, cfg)
	}
	dataType := config.DataTypeYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dataType = config.DataTypeJSON
	}
	return cfg, cfgLoader.LoadFromFile(path, dataType, cfg)
}

// AppConfig is a configuration of the application.
type AppConfig struct {
	Log           *log.Config
	CRPT          *crpt.Config
	MetricsServer *metricsserver.Config
}

// NewAppConfig creates a new AppConfig.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Log:           log.NewConfig(),
		CRPT:          crpt.NewConfigWithKeyPrefix("crpt"),
		MetricsServer: metricsserver.NewConfigWithKeyPrefix("metricsServer"),
	}
}

// SetProviderDefaults sets default configuration values for all sections.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set sets configuration values of all sections from the data provider.
func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}
