// Package heartbeat advertises node liveness through the key/value store.
// Each node refreshes a TTL key; peers discover each other by prefix scan.
package heartbeat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/conductor/pkg/kv"
)

const keyPrefix = "nodes:active:"

// Config tunes the heartbeat loop. TTL must exceed the interval so a
// single missed beat does not mark the node dead.
type Config struct {
	NodeID   string        `yaml:"node_id,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 20 * time.Second
	}
}

// Beater keeps one node's liveness key fresh.
type Beater struct {
	store kv.Store
	cfg   Config

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(store kv.Store, cfg Config) *Beater {
	cfg.SetDefaults()
	return &Beater{
		store: store,
		cfg:   cfg,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (b *Beater) NodeID() string {
	return b.cfg.NodeID
}

// Start beats immediately, then on every tick until Stop. Beat failures
// are logged and retried on the next tick; liveness advertising must
// never take the node down.
func (b *Beater) Start(ctx context.Context) {
	go func() {
		defer close(b.done)

		b.beat(ctx)
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.beat(ctx)
			case <-b.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Beater) beat(ctx context.Context) {
	beatCtx, cancel := context.WithTimeout(ctx, b.cfg.Interval)
	defer cancel()

	key := keyPrefix + b.cfg.NodeID
	payload := time.Now().UTC().Format(time.RFC3339)
	if err := b.store.Set(beatCtx, key, payload, b.cfg.TTL); err != nil {
		slog.Warn("Heartbeat failed", "node_id", b.cfg.NodeID, "error", err)
	}
}

// Stop halts the loop and removes the liveness key so peers see the node
// leave promptly instead of waiting for the TTL.
func (b *Beater) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		close(b.stop)
		<-b.done

		if err := b.store.Delete(ctx, keyPrefix+b.cfg.NodeID); err != nil {
			slog.Warn("Failed to remove heartbeat key", "node_id", b.cfg.NodeID, "error", err)
		}
	})
}

// GetActiveNodes lists the ids of nodes with a live heartbeat.
func GetActiveNodes(ctx context.Context, store kv.Store) ([]string, error) {
	keys, err := store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	nodes := make([]string, 0, len(keys))
	for _, key := range keys {
		nodes = append(nodes, strings.TrimPrefix(key, keyPrefix))
	}
	return nodes, nil
}
