package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error for empty flags")
	}
	if _, err := FromCLI("a.toml", "conf.d"); err == nil {
		t.Fatalf("expected error for both flags")
	}
	source, err := FromCLI("a.toml", "")
	if err != nil || source.File != "a.toml" {
		t.Fatalf("unexpected source %+v err %v", source, err)
	}
}

func TestLoadSnapshotAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "base.toml", `
[service]
mode = "single"

[ingest.http]
enabled = true
`)
	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ingest.HTTP.Listen != ":8080" {
		t.Fatalf("unexpected default listen %q", cfg.Ingest.HTTP.Listen)
	}
	if cfg.Alerts.RisingLookbackSec != 300 {
		t.Fatalf("unexpected default lookback %d", cfg.Alerts.RisingLookbackSec)
	}
	if cfg.Client.PollIntervalSec != 10 || cfg.Client.ReconnectBudget != 5 {
		t.Fatalf("unexpected client defaults %+v", cfg.Client)
	}
	if cfg.Client.ReconnectBaseMS != 1000 || cfg.Client.ReconnectCapMS != 30000 {
		t.Fatalf("unexpected backoff defaults %+v", cfg.Client)
	}
	if cfg.Client.NotificationLimit != 20 {
		t.Fatalf("unexpected cache cap %d", cfg.Client.NotificationLimit)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("console sink must default on when no sink is enabled")
	}
}

func TestLoadSnapshotMergesFragmentDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "10-service.toml", `
[service]
mode = "nats"

[ingest.nats]
enabled = true
url = ["nats://10.0.0.1:4222"]
`)
	writeConfig(t, dir, "20-notify.toml", `
[notify.queue]
enabled = true
`)
	cfg, err := LoadSnapshot(ConfigSource{Dir: dir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Service.Mode != "nats" || !cfg.Notify.Queue.Enabled {
		t.Fatalf("fragments not merged: %+v", cfg)
	}
	// State and queue URLs inherit the ingest URL when unset.
	if len(cfg.State.NATS.URL) != 1 || cfg.State.NATS.URL[0] != "nats://10.0.0.1:4222" {
		t.Fatalf("state url must inherit ingest url, got %v", cfg.State.NATS.URL)
	}
	if cfg.Notify.Queue.URL[0] != "nats://10.0.0.1:4222" {
		t.Fatalf("queue url must inherit ingest url, got %v", cfg.Notify.Queue.URL)
	}
}

func TestLoadSnapshotRejectsNATSSectionsInSingleMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.toml", `
[service]
mode = "single"

[ingest.nats]
enabled = true
`)
	if _, err := LoadSnapshot(ConfigSource{File: path}); err == nil {
		t.Fatalf("expected validation error for nats ingest in single mode")
	}
}

func TestLoadSnapshotRejectsIncompleteTelegram(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "tg.toml", `
[notify.telegram]
enabled = true
token = "123:abc"
`)
	if _, err := LoadSnapshot(ConfigSource{File: path}); err == nil {
		t.Fatalf("expected validation error for missing chat_id")
	}
}

func TestLoadSnapshotRejectsFileSinkWithoutPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "log.toml", `
[log.file]
enabled = true
`)
	if _, err := LoadSnapshot(ConfigSource{File: path}); err == nil {
		t.Fatalf("expected validation error for file sink without path")
	}
}
