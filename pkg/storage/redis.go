package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/async"
	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

// DefaultRedisPrefix prefixes every key and channel when RedisConfig.Prefix is empty.
const DefaultRedisPrefix = "hubcap"

// RedisConfig configures a RedisPublisher.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	Prefix     string
	// TTL expires published snapshots; zero keeps them until the next inspection.
	TTL time.Duration
}

// Snapshot is the published form of a repository's current generation.
type Snapshot struct {
	Kind        string              `json:"kind"`
	Source      string              `json:"source"`
	Generation  string              `json:"generation"`
	InspectedAt time.Time           `json:"inspected_at"`
	Records     []capability.Record `json:"records"`
}

// Announcement is published on the inspections channel after every inspection.
type Announcement struct {
	Kind       string `json:"kind"`
	Source     string `json:"source"`
	Status     string `json:"status"`
	Generation string `json:"generation,omitempty"`
	Records    int    `json:"records"`
	Error      string `json:"error,omitempty"`
}

// RedisPublisher publishes inspection results to Redis.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewRedisPublisher connects to Redis.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, log logrus.FieldLogger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		log:    observability.OrDefault(log).WithField("component", "redis"),
	}, nil
}

// SnapshotKey is the key holding the snapshot of a repository.
func (p *RedisPublisher) SnapshotKey(kind, source string) string {
	return fmt.Sprintf("%s:records:%s:%s", p.prefix, kind, source)
}

// InspectionsChannel is the channel announcements are published on.
func (p *RedisPublisher) InspectionsChannel() string {
	return p.prefix + ":inspections"
}

// RefreshChannel is the channel refresh requests are published on.
func (p *RedisPublisher) RefreshChannel() string {
	return p.prefix + ":refresh"
}

// InspectionFinished publishes the snapshot of a successful inspection and announces every
// inspection. Failures are logged.
func (p *RedisPublisher) InspectionFinished(ctx context.Context, ev repository.Event) {
	if err := p.Publish(ctx, ev); err != nil {
		p.log.WithError(err).WithField("source", ev.Source).Warn("Failed to publish inspection")
	}
}

// Publish writes the snapshot of ev's generation, if any, then announces ev.
func (p *RedisPublisher) Publish(ctx context.Context, ev repository.Event) error {
	ann := Announcement{Kind: ev.Kind, Source: ev.Source, Status: "success"}
	if ev.Err != nil || ev.Generation == nil {
		ann.Status = "failure"
		if ev.Err != nil {
			ann.Error = ev.Err.Error()
		}
	} else {
		gen := ev.Generation
		ann.Generation = gen.ID.String()
		ann.Records = len(gen.Records)

		data, err := json.Marshal(Snapshot{
			Kind:        ev.Kind,
			Source:      ev.Source,
			Generation:  gen.ID.String(),
			InspectedAt: gen.InspectedAt,
			Records:     gen.Records,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		if err := p.client.Set(ctx, p.SnapshotKey(ev.Kind, ev.Source), data, p.ttl).Err(); err != nil {
			return fmt.Errorf("redis set failed: %w", err)
		}
	}

	data, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}
	if err := p.client.Publish(ctx, p.InspectionsChannel(), data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Snapshot returns the published snapshot of a repository, or nil when there is none.
func (p *RedisPublisher) Snapshot(ctx context.Context, kind, source string) (*Snapshot, error) {
	key := p.SnapshotKey(kind, source)
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt data is dropped; the next inspection rewrites it.
		p.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// RequestRefresh asks every subscribed replica to refresh its registry.
func (p *RedisPublisher) RequestRefresh(ctx context.Context) error {
	return p.client.Publish(ctx, p.RefreshChannel(), time.Now().UTC().Format(time.RFC3339Nano)).Err()
}

// SubscribeRefresh calls refresh for every refresh request until ctx is done. Requests that
// arrive while refresh runs are handled in order afterwards. The returned channel is closed
// when the subscription ends.
func (p *RedisPublisher) SubscribeRefresh(ctx context.Context, refresh func(context.Context)) (<-chan struct{}, error) {
	sub := p.client.Subscribe(ctx, p.RefreshChannel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.RefreshChannel(), err)
	}

	return async.SafeGoNoError(ctx, p.log, 0, "redis refresh subscription", func(ctx context.Context) {
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				p.log.WithField("requested_at", msg.Payload).Info("Refresh requested")
				refresh(ctx)
			}
		}
	}), nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
