package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix names the record hashes, e.g. advisory:<id>.
	DefaultRedisPrefix = "advisory"

	// DefaultRedisIndex is the set of tracked finding ids under the default prefix.
	DefaultRedisIndex = "advisories"

	indexSuffix = ":index"
)

// RedisStore keeps each record in a hash at <prefix>:<id> and indexes ids in
// a set: "advisories" under the default prefix, <prefix>:index otherwise.
//
// Upserts run inside MULTI/EXEC: creation fields are written with HSETNX so a
// concurrent first sighting never resets a record, and the provided fields
// are written with HSET, which makes status last-write-wins.
type RedisStore struct {
	client *redis.Client
	prefix string
	index  string
}

// NewRedisStore creates a store over an established client. An empty prefix
// defaults to DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	index := DefaultRedisIndex
	if prefix != DefaultRedisPrefix {
		index = prefix + indexSuffix
	}
	return &RedisStore{client: client, prefix: prefix, index: index}
}

func (s *RedisStore) key(findingID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, findingID)
}

// IndexKey returns the name of the set indexing tracked finding ids.
func (s *RedisStore) IndexKey() string {
	return s.index
}

// Upsert merges fields into the record for findingID.
func (s *RedisStore) Upsert(ctx context.Context, findingID string, fields Fields) error {
	key := s.key(findingID)
	ts := fields.UpdatedAt.Format(time.RFC3339Nano)

	values := map[string]string{"last_updated": ts}
	if fields.Status != "" {
		values["status"] = string(fields.Status)
	}
	putIfNotEmpty(values, "source", fields.Source)
	putIfNotEmpty(values, "title", fields.Title)
	putIfNotEmpty(values, "link", fields.Link)
	putIfNotEmpty(values, "date_posted", fields.PublishedAt)
	putIfNotEmpty(values, "resource", fields.ResourceRef)
	putIfNotEmpty(values, "reason", fields.Reason)
	if fields.PreviousGroups != nil {
		values["previous_groups"] = strings.Join(fields.PreviousGroups, ",")
	}
	if fields.Severity != nil {
		values["severity"] = strconv.FormatFloat(*fields.Severity, 'f', -1, 64)
	}

	args := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "finding_id", findingID)
		pipe.HSetNX(ctx, key, "status", string(StatusPending))
		pipe.HSetNX(ctx, key, "created_at", ts)
		pipe.HSet(ctx, key, args...)
		pipe.SAdd(ctx, s.index, findingID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert advisory %s: %w", findingID, err)
	}
	return nil
}

// Get returns the record for findingID, or nil.
func (s *RedisStore) Get(ctx context.Context, findingID string) (*AdvisoryRecord, error) {
	values, err := s.client.HGetAll(ctx, s.key(findingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get advisory %s: %w", findingID, err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	rec := &AdvisoryRecord{
		FindingID:   values["finding_id"],
		Status:      Status(values["status"]),
		Source:      values["source"],
		Title:       values["title"],
		Link:        values["link"],
		PublishedAt: values["date_posted"],
		ResourceRef: values["resource"],
		Reason:      values["reason"],
	}
	if v := values["previous_groups"]; v != "" {
		rec.PreviousGroups = strings.Split(v, ",")
	}
	if v, ok := values["severity"]; ok {
		if sev, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Severity = sev
		}
	}
	if v, ok := values["created_at"]; ok {
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := values["last_updated"]; ok {
		rec.LastUpdated, _ = time.Parse(time.RFC3339Nano, v)
	}

	return rec, nil
}

// IDs returns every tracked finding id.
func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.index).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list advisories: %w", err)
	}
	return ids, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func putIfNotEmpty(values map[string]string, key, v string) {
	if v != "" {
		values[key] = v
	}
}
