package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultMetricsPath        = "/metrics"
	defaultReadingsPath       = "/api/readings"
	defaultMaxBodyBytes       = 1 << 20
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultReadingsSubject    = "pitalert.readings"
	defaultReadingsStream     = "PITALERT_READINGS"
	defaultReadingsConsumer   = "pitalert-ingest"
	defaultReadingsGroup      = "pitalert-workers"
	defaultNotifySubject      = "pitalert.notify"
	defaultNotifyStream       = "PITALERT_NOTIFY"
	defaultNotifyConsumer     = "pitalert-notify"
	defaultNotifyGroup        = "pitalert-notifiers"
	defaultAckWaitSec         = 30
	defaultNackDelayMS        = 1000
	defaultMaxDeliver         = 5
	defaultMaxAckPending      = 2048
	defaultStateBucket        = "pitalert-triggers"
	defaultReloadSeconds      = 5
	defaultCompactSeconds     = 60
	defaultStateIdleTTLSec    = 3600
	defaultRisingLookbackSec  = 300
	defaultPollIntervalSec    = 10
	defaultReconnectBaseMS    = 1000
	defaultReconnectCapMS     = 30000
	defaultReconnectBudget    = 5
	defaultDispatchBuffer     = 256
	defaultDispatchWorkers    = 4
	defaultNotificationLimit  = 20
	defaultTelegramRetryCount = 3
	defaultTelegramRetryMS    = 500

	// ServiceModeNATS keeps NATS-backed state/ingest/queue settings.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"
)

// Config is the root runtime configuration snapshot.
// Params: service, ingest, state, alerts, dispatch, client, notify, and log sections.
// Returns: validated configuration for service wiring.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Ingest   IngestConfig   `toml:"ingest"`
	State    StateConfig    `toml:"state"`
	Alerts   AlertsConfig   `toml:"alerts"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Client   ClientConfig   `toml:"client"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
}

// ServiceConfig stores process-level settings.
// Params: mode, reload, and runtime-state compaction knobs.
// Returns: service lifecycle configuration.
type ServiceConfig struct {
	Mode               string `toml:"mode"`
	ReloadEnabled      bool   `toml:"reload_enabled"`
	ReloadIntervalSec  int    `toml:"reload_interval_sec"`
	CompactIntervalSec int    `toml:"compact_interval_sec"`
	StateIdleTTLSec    int    `toml:"state_idle_ttl_sec"`
}

// IngestConfig groups reading ingest interfaces.
// Params: HTTP and NATS ingest sections.
// Returns: ingest configuration.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig stores HTTP server and readings endpoint settings.
// Params: listen address, paths, and body limits.
// Returns: HTTP ingest configuration.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	ReadingsPath string `toml:"readings_path"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig stores JetStream reading consumer settings.
// Params: connection URLs and durable consumer knobs.
// Returns: NATS ingest configuration.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StateConfig selects the trigger state backend.
// Params: NATS KV settings for cluster mode.
// Returns: state backend configuration.
type StateConfig struct {
	NATS NATSStateConfig `toml:"nats"`
}

// NATSStateConfig stores JetStream KV bucket settings for trigger records.
// Params: connection URLs, bucket name, and create permission.
// Returns: NATS state configuration.
type NATSStateConfig struct {
	URL                []string `toml:"url"`
	Bucket             string   `toml:"bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// AlertsConfig stores evaluation defaults.
// Params: rising/falling lookback window seconds.
// Returns: evaluator configuration.
type AlertsConfig struct {
	RisingLookbackSec int `toml:"rising_lookback_sec"`
}

// DispatchConfig stores in-process dispatch queue settings.
// Params: buffer capacity and worker count.
// Returns: dispatcher configuration.
type DispatchConfig struct {
	Buffer  int `toml:"buffer"`
	Workers int `toml:"workers"`
}

// ClientConfig stores delivery channel manager defaults served to clients.
// Params: polling interval, backoff shape, retry budget, and cache cap.
// Returns: client-side delivery configuration.
type ClientConfig struct {
	PollIntervalSec   int `toml:"poll_interval_sec"`
	ReconnectBaseMS   int `toml:"reconnect_base_ms"`
	ReconnectCapMS    int `toml:"reconnect_cap_ms"`
	ReconnectBudget   int `toml:"reconnect_budget"`
	NotificationLimit int `toml:"notification_limit"`
}

// NotifyConfig groups outbound delivery channel settings.
// Params: queue and Telegram channel sections.
// Returns: notify configuration.
type NotifyConfig struct {
	Queue    NotifyQueue      `toml:"queue"`
	Telegram TelegramNotifier `toml:"telegram"`
}

// NotifyQueue stores JetStream notification queue settings for cluster mode.
// Params: connection URLs and durable consumer knobs.
// Returns: notify queue configuration.
type NotifyQueue struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// TelegramNotifier stores optional Telegram delivery channel settings.
// Params: bot token, chat target, and retry knobs.
// Returns: Telegram channel configuration.
type TelegramNotifier struct {
	Enabled      bool   `toml:"enabled"`
	Token        string `toml:"token"`
	ChatID       string `toml:"chat_id"`
	RetryCount   int    `toml:"retry_count"`
	RetryDelayMS int    `toml:"retry_delay_ms"`
}

// LogConfig groups log sink settings.
// Params: console and file sink sections.
// Returns: logging configuration.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig stores one log sink settings.
// Params: enabled flag, level, format, and file path.
// Returns: sink configuration.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource selects one config file or a fragment directory.
// Params: mutually exclusive file/dir paths.
// Returns: load source for snapshots.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds config source from CLI flags.
// Params: file and dir flag values.
// Returns: source or usage error when both/neither are set.
func FromCLI(file, dir string) (ConfigSource, error) {
	file = strings.TrimSpace(file)
	dir = strings.TrimSpace(dir)
	if (file == "") == (dir == "") {
		return ConfigSource{}, errors.New("exactly one of --config-file or --config-dir is required")
	}
	return ConfigSource{File: file, Dir: dir}, nil
}

// LoadSnapshot loads, defaults, and validates one config snapshot.
// Params: config source.
// Returns: validated config or load error.
func LoadSnapshot(source ConfigSource) (Config, error) {
	var cfg Config
	if source.File != "" {
		if err := decodeFile(source.File, &cfg); err != nil {
			return Config{}, err
		}
	} else {
		entries, err := os.ReadDir(source.Dir)
		if err != nil {
			return Config{}, fmt.Errorf("read config dir %q: %w", source.Dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
				continue
			}
			names = append(names, entry.Name())
		}
		if len(names) == 0 {
			return Config{}, fmt.Errorf("no .toml fragments in %q", source.Dir)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := decodeFile(filepath.Join(source.Dir, name), &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFile overlays one TOML document onto the config struct.
// Params: file path and target config pointer.
// Returns: decode error with file context.
func decodeFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	return nil
}

// NormalizeServiceMode maps raw mode value to a canonical constant.
// Params: raw mode string.
// Returns: "single" or "nats" (default single).
func NormalizeServiceMode(mode string) string {
	if strings.TrimSpace(strings.ToLower(mode)) == ServiceModeNATS {
		return ServiceModeNATS
	}
	return ServiceModeSingle
}

// applyDefaults fills zero values with documented defaults.
// Params: mutable config pointer.
// Returns: config mutated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Mode == "" {
		cfg.Service.Mode = ServiceModeSingle
	}
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}
	if cfg.Service.CompactIntervalSec <= 0 {
		cfg.Service.CompactIntervalSec = defaultCompactSeconds
	}
	if cfg.Service.StateIdleTTLSec <= 0 {
		cfg.Service.StateIdleTTLSec = defaultStateIdleTTLSec
	}

	if cfg.Ingest.HTTP.Listen == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if cfg.Ingest.HTTP.ReadingsPath == "" {
		cfg.Ingest.HTTP.ReadingsPath = defaultReadingsPath
	}
	if cfg.Ingest.HTTP.HealthPath == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if cfg.Ingest.HTTP.ReadyPath == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.Ingest.HTTP.MetricsPath == "" {
		cfg.Ingest.HTTP.MetricsPath = defaultMetricsPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	if len(cfg.Ingest.NATS.URL) == 0 {
		cfg.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Ingest.NATS.Subject == "" {
		cfg.Ingest.NATS.Subject = defaultReadingsSubject
	}
	if cfg.Ingest.NATS.Stream == "" {
		cfg.Ingest.NATS.Stream = defaultReadingsStream
	}
	if cfg.Ingest.NATS.ConsumerName == "" {
		cfg.Ingest.NATS.ConsumerName = defaultReadingsConsumer
	}
	if cfg.Ingest.NATS.DeliverGroup == "" {
		cfg.Ingest.NATS.DeliverGroup = defaultReadingsGroup
	}
	if cfg.Ingest.NATS.AckWaitSec <= 0 {
		cfg.Ingest.NATS.AckWaitSec = defaultAckWaitSec
	}
	if cfg.Ingest.NATS.NackDelayMS <= 0 {
		cfg.Ingest.NATS.NackDelayMS = defaultNackDelayMS
	}
	if cfg.Ingest.NATS.MaxDeliver == 0 {
		cfg.Ingest.NATS.MaxDeliver = defaultMaxDeliver
	}
	if cfg.Ingest.NATS.MaxAckPending <= 0 {
		cfg.Ingest.NATS.MaxAckPending = defaultMaxAckPending
	}

	if len(cfg.State.NATS.URL) == 0 {
		cfg.State.NATS.URL = cfg.Ingest.NATS.URL
	}
	if cfg.State.NATS.Bucket == "" {
		cfg.State.NATS.Bucket = defaultStateBucket
	}

	if cfg.Alerts.RisingLookbackSec <= 0 {
		cfg.Alerts.RisingLookbackSec = defaultRisingLookbackSec
	}

	if cfg.Dispatch.Buffer <= 0 {
		cfg.Dispatch.Buffer = defaultDispatchBuffer
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = defaultDispatchWorkers
	}

	if cfg.Client.PollIntervalSec <= 0 {
		cfg.Client.PollIntervalSec = defaultPollIntervalSec
	}
	if cfg.Client.ReconnectBaseMS <= 0 {
		cfg.Client.ReconnectBaseMS = defaultReconnectBaseMS
	}
	if cfg.Client.ReconnectCapMS <= 0 {
		cfg.Client.ReconnectCapMS = defaultReconnectCapMS
	}
	if cfg.Client.ReconnectBudget <= 0 {
		cfg.Client.ReconnectBudget = defaultReconnectBudget
	}
	if cfg.Client.NotificationLimit <= 0 {
		cfg.Client.NotificationLimit = defaultNotificationLimit
	}

	if len(cfg.Notify.Queue.URL) == 0 {
		cfg.Notify.Queue.URL = cfg.Ingest.NATS.URL
	}
	if cfg.Notify.Queue.Subject == "" {
		cfg.Notify.Queue.Subject = defaultNotifySubject
	}
	if cfg.Notify.Queue.Stream == "" {
		cfg.Notify.Queue.Stream = defaultNotifyStream
	}
	if cfg.Notify.Queue.ConsumerName == "" {
		cfg.Notify.Queue.ConsumerName = defaultNotifyConsumer
	}
	if cfg.Notify.Queue.DeliverGroup == "" {
		cfg.Notify.Queue.DeliverGroup = defaultNotifyGroup
	}
	if cfg.Notify.Queue.AckWaitSec <= 0 {
		cfg.Notify.Queue.AckWaitSec = defaultAckWaitSec
	}
	if cfg.Notify.Queue.NackDelayMS <= 0 {
		cfg.Notify.Queue.NackDelayMS = defaultNackDelayMS
	}
	if cfg.Notify.Queue.MaxDeliver == 0 {
		cfg.Notify.Queue.MaxDeliver = defaultMaxDeliver
	}
	if cfg.Notify.Queue.MaxAckPending <= 0 {
		cfg.Notify.Queue.MaxAckPending = defaultMaxAckPending
	}

	if cfg.Notify.Telegram.RetryCount <= 0 {
		cfg.Notify.Telegram.RetryCount = defaultTelegramRetryCount
	}
	if cfg.Notify.Telegram.RetryDelayMS <= 0 {
		cfg.Notify.Telegram.RetryDelayMS = defaultTelegramRetryMS
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
}

// validate checks cross-field configuration invariants.
// Params: defaulted config snapshot.
// Returns: first validation error.
func validate(cfg Config) error {
	mode := strings.TrimSpace(strings.ToLower(cfg.Service.Mode))
	if mode != ServiceModeSingle && mode != ServiceModeNATS {
		return fmt.Errorf("service.mode must be %q or %q", ServiceModeSingle, ServiceModeNATS)
	}
	if NormalizeServiceMode(cfg.Service.Mode) == ServiceModeSingle {
		if cfg.Ingest.NATS.Enabled {
			return errors.New("ingest.nats requires service.mode=nats")
		}
		if cfg.Notify.Queue.Enabled {
			return errors.New("notify.queue requires service.mode=nats")
		}
	}
	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.Token) == "" {
			return errors.New("notify.telegram.token is required when telegram is enabled")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}
	return nil
}
