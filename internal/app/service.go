package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"pitalert/internal/api"
	"pitalert/internal/clock"
	"pitalert/internal/config"
	"pitalert/internal/dispatch"
	"pitalert/internal/ingest"
	"pitalert/internal/logging"
	"pitalert/internal/notify"
	"pitalert/internal/notifyqueue"
	"pitalert/internal/push"
	"pitalert/internal/registry"
	"pitalert/internal/state"
	"pitalert/internal/tracker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable pitalert service.
type Service struct {
	source     config.ConfigSource
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	store      state.Store
	rules      *registry.Registry
	broker     *push.Broker
	dispatcher *dispatch.Dispatcher
	manager    *Manager
	httpSrv    *http.Server
	natsSub    interface{ Close() error }
	notifyQ    notifyqueue.Worker
	notifyPub  notifyqueue.Producer
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	rules := registry.New()
	broker := push.NewBroker(logger, cfg.Client.NotificationLimit)
	dispatcher := dispatch.NewDispatcher(logger, buildChannels(cfg, broker), cfg.Dispatch.Buffer, cfg.Dispatch.Workers)
	manager := NewManager(cfg, logger, rules, tracker.New(store, clk), dispatcher, clk)

	service := &Service{
		source:     source,
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		store:      store,
		rules:      rules,
		broker:     broker,
		dispatcher: dispatcher,
		manager:    manager,
		clock:      clk,
	}

	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNotifyQueue(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.cfg.Service.CompactIntervalSec > 0 {
		compactTicker := time.NewTicker(time.Duration(s.cfg.Service.CompactIntervalSec) * time.Second)
		defer compactTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-compactTicker.C:
					s.manager.CompactRuntimeState(shutdownCtx)
				}
			}
		}()
	}

	if s.cfg.Service.ReloadEnabled {
		reloadInterval := time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second
		reloadTicker := time.NewTicker(reloadInterval)
		defer reloadTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
					if err := s.reloadConfig(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
						s.logger.Error("reload failed", "error", err.Error())
					}
				}
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.dispatcher.Close(); err != nil {
		s.logger.Error("dispatcher close failed", "error", err.Error())
		markErr(fmt.Errorf("dispatcher close: %w", err))
	}
	if s.notifyQ != nil {
		if err := s.notifyQ.Close(); err != nil {
			s.logger.Error("notify queue worker close failed", "error", err.Error())
			markErr(fmt.Errorf("notify queue worker close: %w", err))
		}
	}
	if s.notifyPub != nil {
		if err := s.notifyPub.Close(); err != nil {
			s.logger.Error("notify queue producer close failed", "error", err.Error())
			markErr(fmt.Errorf("notify queue producer close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.notifyQ != nil {
		_ = s.notifyQ.Close()
		s.notifyQ = nil
	}
	if s.notifyPub != nil {
		_ = s.notifyPub.Close()
		s.notifyPub = nil
	}
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires router with management, ingest, push, and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.Ingest.HTTP.MetricsPath, promhttp.Handler())

	api.NewHandler(s.logger, s.rules, s.dispatcher, s.broker).Register(mux)
	mux.Handle("/api/notifications/stream", push.NewStreamHandler(s.broker))

	if s.cfg.Ingest.HTTP.Enabled {
		mux.Handle(s.cfg.Ingest.HTTP.ReadingsPath, ingest.NewHTTPHandler(s.manager, s.cfg.Ingest.HTTP.MaxBodyBytes))
		batchPath := strings.TrimSuffix(s.cfg.Ingest.HTTP.ReadingsPath, "/") + "/batch"
		if batchPath != s.cfg.Ingest.HTTP.ReadingsPath {
			mux.Handle(batchPath, ingest.NewBatchHTTPHandler(s.manager, s.cfg.Ingest.HTTP.MaxBodyBytes))
		}
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS reading ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) {
		return nil
	}
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.manager, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// reloadConfig atomically reloads and applies new config snapshot.
// Params: context for cleanup operations.
// Returns: reload or apply error.
func (s *Service) reloadConfig(ctx context.Context) error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	if isSingleMode(nextCfg) != isSingleMode(s.cfg) {
		return fmt.Errorf("service.mode change requires restart")
	}
	nextDispatcher := dispatch.NewDispatcher(s.logger, buildChannels(nextCfg, s.broker), nextCfg.Dispatch.Buffer, nextCfg.Dispatch.Workers)
	nextProducer, nextWorker, err := s.buildNotifyQueueRuntime(nextCfg)
	if err != nil {
		_ = nextDispatcher.Close()
		return err
	}
	if err := s.manager.ApplyConfig(ctx, nextCfg); err != nil {
		_ = nextDispatcher.Close()
		if nextWorker != nil {
			_ = nextWorker.Close()
		}
		if nextProducer != nil {
			_ = nextProducer.Close()
		}
		return err
	}
	if s.notifyQ != nil {
		_ = s.notifyQ.Close()
	}
	if s.notifyPub != nil {
		_ = s.notifyPub.Close()
	}
	previous := s.dispatcher
	s.notifyQ = nextWorker
	s.notifyPub = nextProducer
	nextDispatcher.SetProducer(nextProducer)
	s.dispatcher = nextDispatcher
	s.manager.SetDispatcher(nextDispatcher)
	_ = previous.Close()
	s.cfg = nextCfg
	s.logger.Info("configuration reloaded")
	return nil
}

// buildNotifyQueue initializes async notification producer+worker when enabled.
// Params: none.
// Returns: setup error.
func (s *Service) buildNotifyQueue() error {
	producer, worker, err := s.buildNotifyQueueRuntime(s.cfg)
	if err != nil {
		return err
	}
	s.notifyPub = producer
	s.notifyQ = worker
	s.dispatcher.SetProducer(producer)
	return nil
}

// buildNotifyQueueRuntime creates queue producer/worker pair from config snapshot.
// Params: config snapshot.
// Returns: producer and worker handles (nil when queue disabled).
func (s *Service) buildNotifyQueueRuntime(cfg config.Config) (notifyqueue.Producer, notifyqueue.Worker, error) {
	if isSingleMode(cfg) {
		return nil, nil, nil
	}
	if !cfg.Notify.Queue.Enabled {
		return nil, nil, nil
	}
	producer, err := notifyqueue.NewNATSProducer(cfg.Notify.Queue)
	if err != nil {
		return nil, nil, err
	}
	worker, err := notifyqueue.NewNATSWorker(cfg.Notify.Queue, s.logger, func(ctx context.Context, job notifyqueue.Job) error {
		return s.manager.ProcessQueuedNotification(ctx, job)
	})
	if err != nil {
		_ = producer.Close()
		return nil, nil, err
	}
	return producer, worker, nil
}

// buildChannels assembles the delivery channel set from config.
// Params: config snapshot and shared push broker.
// Returns: ordered channel slice; push is always present.
func buildChannels(cfg config.Config, broker *push.Broker) []dispatch.Channel {
	channels := []dispatch.Channel{broker}
	if cfg.Notify.Telegram.Enabled {
		channels = append(channels, notify.NewTelegramChannel(cfg.Notify.Telegram))
	}
	return channels
}

// buildStore creates trigger state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (state.Store, error) {
	if isSingleMode(cfg) {
		return state.NewMemoryStore(), nil
	}
	return state.NewNATSStore(cfg.State.NATS)
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
