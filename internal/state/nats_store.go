package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pitalert/internal/config"
	"pitalert/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSStore persists trigger records in a JetStream KV bucket.
// Params: NATS connection, JetStream context, and KV bucket handle.
// Returns: KV-backed state store implementation for cluster mode.
type NATSStore struct {
	nc *nats.Conn
	js nats.JetStreamContext
	kv nats.KeyValue
}

// NewNATSStore opens (or creates) the trigger state bucket.
// Params: NATS state settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open trigger bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: settings.Bucket})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create trigger bucket %q: %w", settings.Bucket, err)
		}
	}

	return &NATSStore{nc: nc, js: js, kv: kv}, nil
}

// Get reads one trigger record and its KV revision.
// Params: alert ID key.
// Returns: record payload, revision, or ErrNotFound.
func (s *NATSStore) Get(_ context.Context, alertID string) (domain.TriggerRecord, uint64, error) {
	entry, err := s.kv.Get(alertID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.TriggerRecord{}, 0, ErrNotFound
		}
		return domain.TriggerRecord{}, 0, fmt.Errorf("get trigger record: %w", err)
	}

	var record domain.TriggerRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return domain.TriggerRecord{}, 0, fmt.Errorf("decode trigger record: %w", err)
	}
	return record, entry.Revision(), nil
}

// Create writes record only when the key does not exist yet.
// Params: alert ID key and record payload.
// Returns: new KV revision or ErrConflict when key exists.
func (s *NATSStore) Create(_ context.Context, alertID string, record domain.TriggerRecord) (uint64, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode trigger record: %w", err)
	}
	rev, err := s.kv.Create(alertID, body)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("create trigger record: %w", err)
	}
	return rev, nil
}

// Update replaces record payload using expected revision CAS.
// Params: alert ID key, expected revision, and replacement payload.
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) Update(_ context.Context, alertID string, expectedRevision uint64, record domain.TriggerRecord) (uint64, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode trigger record: %w", err)
	}
	rev, err := s.kv.Update(alertID, body, expectedRevision)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update trigger record: %w", err)
	}
	return rev, nil
}

// Delete removes record by alert ID.
// Params: alert ID key.
// Returns: delete error.
func (s *NATSStore) Delete(_ context.Context, alertID string) error {
	if err := s.kv.Delete(alertID); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete trigger record: %w", err)
	}
	return nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
