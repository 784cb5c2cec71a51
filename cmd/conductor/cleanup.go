package main

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/kv"
	"github.com/kadirpekel/conductor/pkg/memory"
)

// CleanupCmd removes duplicate entries from a conversation's message cache.
// Duplicates can accumulate when a node crashes between the cache append and
// the durable insert and the turn is retried.
type CleanupCmd struct {
	ConversationID string `arg:"" help:"Conversation to deduplicate."`
}

func (c *CleanupCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if !cfg.Storage.Redis.Enabled {
		return fmt.Errorf("cleanup-messages requires storage.redis.enabled: the in-memory cache does not outlive the process")
	}

	ctx := context.Background()
	store, err := kv.NewRedisStore(ctx, cfg.Storage.Redis.RedisConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	// Only the cache is touched here, the rest of the service stays idle.
	svc := memory.NewService(docstore.NewMemoryStore(), store, nil, nil, cfg.Memory)
	removed, err := svc.CleanupMessages(ctx, c.ConversationID)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d duplicate message(s) from %s\n", removed, c.ConversationID)
	return nil
}
