package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aatumaykin/deferq/internal/config"
	"github.com/aatumaykin/deferq/internal/cron"
	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/aatumaykin/deferq/internal/version"
	"github.com/aatumaykin/deferq/internal/workqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured workqueues and cron jobs",
	Long: `Create the workqueues from the configuration, start the cron jobs that
queue work on them and expose Prometheus metrics if enabled.

On SIGINT or SIGTERM the scheduler is stopped and every workqueue is
flushed and destroyed before exit.`,
	Args: cobra.NoArgs,
	RunE: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

// server holds the running components of serve.
type server struct {
	cfg       *config.Config
	log       *logger.Logger
	metrics   *prometheus.Registry
	queues    *workqueue.Registry
	scheduler *cron.Scheduler
	http      *http.Server
}

func newServer(cfg *config.Config, log *logger.Logger) (*server, error) {
	s := &server{cfg: cfg, log: log}

	var opts []workqueue.Option
	if cfg.Metrics.Enabled {
		s.metrics = prometheus.NewRegistry()
		s.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, workqueue.WithObserver(workqueue.InitPrometheusMetrics(cfg.Metrics.Namespace, s.metrics)))
	}
	s.queues = workqueue.NewRegistry(log, opts...)

	for _, wc := range cfg.Workqueues {
		wqOpts, err := wc.Options()
		if err != nil {
			s.queues.DestroyAll()
			return nil, fmt.Errorf("workqueue %s: %w", wc.Name, err)
		}
		wq, err := s.queues.Create(wc.Name, wqOpts...)
		if err != nil {
			s.queues.DestroyAll()
			return nil, err
		}
		log.Info("workqueue created",
			logger.Field{Key: "workqueue", Value: wq.Name()},
			logger.Field{Key: "mode", Value: wq.Mode().String()},
			logger.Field{Key: "queues", Value: wq.NumQueues()})
	}

	s.scheduler = cron.NewScheduler(log, s.queues, nil)
	for _, jc := range cfg.Jobs {
		if _, err := s.scheduler.AddJob(jc.Job()); err != nil {
			s.queues.DestroyAll()
			return nil, err
		}
	}

	if s.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{EnableOpenMetrics: true}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		s.http = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

// run starts the scheduler and the metrics endpoint, blocks until ctx is done
// or the endpoint fails, then shuts everything down.
func (s *server) run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.queues.DestroyAll()
		return err
	}

	errCh := make(chan error, 1)
	if s.http != nil {
		go func() {
			s.log.Info("metrics endpoint listening",
				logger.Field{Key: "addr", Value: s.cfg.Metrics.Listen},
				logger.Field{Key: "path", Value: s.cfg.Metrics.Path})
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("received shutdown signal")
	case runErr = <-errCh:
		s.log.Error("metrics endpoint failed", runErr)
	}

	return errors.Join(runErr, s.shutdown())
}

func (s *server) shutdown() error {
	var errs []error

	if err := s.scheduler.Stop(); err != nil && !errors.Is(err, cron.ErrSchedulerStopped) {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics endpoint: %w", err))
		}
	}

	// flushes every workqueue before its workers exit
	s.queues.DestroyAll()
	s.log.Info("deferq stopped")
	return errors.Join(errs...)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting deferq",
		logger.Field{Key: "version", Value: version.Version},
		logger.Field{Key: "git_commit", Value: version.GitCommit},
		logger.Field{Key: "config", Value: configPath},
		logger.Field{Key: "workqueues", Value: len(cfg.Workqueues)},
		logger.Field{Key: "jobs", Value: len(cfg.Jobs)})

	s, err := newServer(cfg, log)
	if err != nil {
		return err
	}
	return s.run(ctx)
}
