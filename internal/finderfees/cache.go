package finderfees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	versionKeyPrefix = "finderfees:version:"
	bumpChannel      = "finderfees.bump"
)

// Cache keeps per-finder summaries in Redis. Every finder has its own version
// counter; bumping it orphans the finder's cached entries.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the finder's cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, finderID int64) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	key := versionKey(finderID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// SummaryKey composes the versioned key for a finder summary.
func (c *Cache) SummaryKey(ctx context.Context, finderID int64) (string, error) {
	ver, err := c.Version(ctx, finderID)
	if err != nil {
		return "", err
	}
	return summaryKey(finderID, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("finderfees cache: loader required")
	}
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates a finder's cached summaries and publishes the finder id
// with its new version.
func (c *Cache) Bump(ctx context.Context, finderID int64) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(finderID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, bumpMessage(finderID, ver)).Err()
}

// ListenForInvalidation subscribes to bump notifications and deletes the
// summary stored under the version each bump replaced, so orphaned entries do
// not wait for their TTL. It returns once the subscription is confirmed; the
// listener stops when ctx is done.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("finderfees cache: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				finderID, ver, err := parseBumpMessage(msg.Payload)
				if err != nil || ver <= 1 {
					continue
				}
				_ = c.client.Del(ctx, summaryKey(finderID, ver-1)).Err()
			}
		}
	}()
	return nil
}

func bumpMessage(finderID, ver int64) string {
	return strconv.FormatInt(finderID, 10) + ":" + strconv.FormatInt(ver, 10)
}

func parseBumpMessage(payload string) (finderID, ver int64, err error) {
	id, v, ok := strings.Cut(payload, ":")
	if !ok {
		return 0, 0, fmt.Errorf("finderfees cache: malformed bump %q", payload)
	}
	if finderID, err = strconv.ParseInt(id, 10, 64); err != nil {
		return 0, 0, err
	}
	if ver, err = strconv.ParseInt(v, 10, 64); err != nil {
		return 0, 0, err
	}
	return finderID, ver, nil
}

func summaryKey(finderID, ver int64) string {
	return fmt.Sprintf("finderfees:summary:%d:%d", finderID, ver)
}

func versionKey(finderID int64) string {
	return versionKeyPrefix + strconv.FormatInt(finderID, 10)
}
