package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// maxCASAttempts bounds the compare-and-swap loop in EtcdStore.Upsert.
const maxCASAttempts = 5

// EtcdStore keeps each record as a JSON value at /<namespace>/advisories/<id>.
type EtcdStore struct {
	client    *clientv3.Client
	namespace string
}

// EtcdOptions configures the etcd connection.
type EtcdOptions struct {
	// Endpoints lists the etcd cluster members.
	Endpoints []string

	// Namespace prefixes every key. Default: "responder"
	Namespace string

	// DialTimeout bounds connection establishment. Default: 5s
	DialTimeout time.Duration
}

// NewEtcdStore connects to etcd and verifies connectivity.
func NewEtcdStore(opts EtcdOptions) (*EtcdStore, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	if opts.Namespace == "" {
		opts.Namespace = "responder"
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &EtcdStore{client: cli, namespace: opts.Namespace}, nil
}

func (s *EtcdStore) key(findingID string) string {
	return path.Join(s.dir(), findingID)
}

func (s *EtcdStore) dir() string {
	return path.Join("/", s.namespace, "advisories")
}

// Upsert merges fields into the record for findingID using a
// compare-and-swap transaction on the key's mod revision.
func (s *EtcdStore) Upsert(ctx context.Context, findingID string, fields Fields) error {
	key := s.key(findingID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		resp, err := s.client.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read advisory %s: %w", findingID, err)
		}

		var existing *AdvisoryRecord
		var modRevision int64
		if len(resp.Kvs) > 0 {
			var rec AdvisoryRecord
			if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
				return fmt.Errorf("failed to decode advisory %s: %w", findingID, err)
			}
			existing = &rec
			modRevision = resp.Kvs[0].ModRevision
		}

		data, err := json.Marshal(Merge(existing, findingID, fields))
		if err != nil {
			return fmt.Errorf("failed to marshal advisory %s: %w", findingID, err)
		}

		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", modRevision)).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		if err != nil {
			return fmt.Errorf("failed to write advisory %s: %w", findingID, err)
		}
		if txn.Succeeded {
			return nil
		}
	}

	return fmt.Errorf("advisory %s: too many concurrent updates", findingID)
}

// Get returns the record for findingID, or nil.
func (s *EtcdStore) Get(ctx context.Context, findingID string) (*AdvisoryRecord, error) {
	resp, err := s.client.Get(ctx, s.key(findingID))
	if err != nil {
		return nil, fmt.Errorf("failed to read advisory %s: %w", findingID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var rec AdvisoryRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode advisory %s: %w", findingID, err)
	}
	return &rec, nil
}

// IDs returns every tracked finding id.
func (s *EtcdStore) IDs(ctx context.Context) ([]string, error) {
	dir := s.dir() + "/"
	resp, err := s.client.Get(ctx, dir, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list advisories: %w", err)
	}
	ids := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, strings.TrimPrefix(string(kv.Key), dir))
	}
	return ids, nil
}

// Close closes the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
