// Package memory manages conversation history: durable storage, the
// ephemeral cache used for fast context assembly, and background
// executive summaries.
//
// The document store is the source of truth. A write that fails there
// fails the turn; cache writes are best-effort and only ever logged.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/kv"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/tokens"
)

// Config tunes context assembly and summarization.
type Config struct {
	// ContextTokenBudget caps the tokens handed to the model as history.
	ContextTokenBudget int `yaml:"context_token_budget,omitempty"`

	// SummaryThreshold is the message count that triggers the first
	// executive summary.
	SummaryThreshold int `yaml:"summary_threshold,omitempty"`

	// SummaryInterval is how many new messages trigger a refresh after
	// the first summary.
	SummaryInterval int `yaml:"summary_interval,omitempty"`

	// SummaryMaxWords bounds the summary length requested from the model.
	SummaryMaxWords int `yaml:"summary_max_words,omitempty"`

	// SummaryTimeout bounds each background summarization run.
	SummaryTimeout time.Duration `yaml:"summary_timeout,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = 4000
	}
	if c.SummaryThreshold <= 0 {
		c.SummaryThreshold = 10
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = 8
	}
	if c.SummaryMaxWords <= 0 {
		c.SummaryMaxWords = 200
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 60 * time.Second
	}
}

// Service is the conversation memory facade.
type Service struct {
	store   docstore.MessageStore
	cache   kv.Store
	llm     llms.Provider
	counter *tokens.Counter
	cfg     Config

	summaries singleflight.Group
}

func NewService(store docstore.MessageStore, cache kv.Store, llm llms.Provider, counter *tokens.Counter, cfg Config) *Service {
	cfg.SetDefaults()
	return &Service{
		store:   store,
		cache:   cache,
		llm:     llm,
		counter: counter,
		cfg:     cfg,
	}
}

// DeriveConversationID computes the stable conversation id for a first
// user message.
func DeriveConversationID(firstUserMessage string) string {
	sum := sha256.Sum256([]byte(firstUserMessage))
	return "conv_" + hex.EncodeToString(sum[:])[:16]
}

func messagesKey(conversationID string) string {
	return "conversations:" + conversationID + ":messages"
}

func summaryKey(conversationID string) string {
	return "conversations:" + conversationID + ":summary"
}

// AppendMessage persists a message durably, then mirrors it into the
// cache. A duplicate id means the message is already stored and is not
// an error.
func (s *Service) AppendMessage(ctx context.Context, msg protocol.Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("message %s has no conversation id", msg.ID)
	}

	err := s.store.Insert(ctx, msg)
	if errors.Is(err, docstore.ErrDuplicateID) {
		slog.Debug("Message already persisted", "message_id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to persist message %s: %w", msg.ID, err)
	}

	encoded, err := msg.Encode()
	if err != nil {
		slog.Warn("Failed to encode message for cache", "message_id", msg.ID, "error", err)
		return nil
	}
	if err := s.cache.ListAppend(ctx, messagesKey(msg.ConversationID), encoded); err != nil {
		slog.Warn("Failed to cache message",
			"message_id", msg.ID,
			"conversation_id", msg.ConversationID,
			"error", err)
	}
	return nil
}

// loadMessages reads history from the cache, falling back to the document
// store when the cache is cold. Duplicates are dropped keeping the first
// occurrence.
func (s *Service) loadMessages(ctx context.Context, conversationID string) ([]protocol.Message, error) {
	entries, err := s.cache.ListRange(ctx, messagesKey(conversationID))
	if err != nil {
		slog.Warn("Failed to read message cache", "conversation_id", conversationID, "error", err)
		entries = nil
	}

	var messages []protocol.Message
	if len(entries) > 0 {
		messages = make([]protocol.Message, 0, len(entries))
		for _, entry := range entries {
			msg, err := protocol.DecodeMessage(entry)
			if err != nil {
				slog.Warn("Skipping undecodable cached message",
					"conversation_id", conversationID,
					"error", err)
				continue
			}
			messages = append(messages, msg)
		}
	} else {
		messages, err = s.store.ListByConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
		}
	}

	return dedupe(messages), nil
}

func dedupe(messages []protocol.Message) []protocol.Message {
	seen := make(map[string]bool, len(messages))
	out := messages[:0]
	for _, msg := range messages {
		if msg.ID != "" && seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		out = append(out, msg)
	}
	return out
}

// GetContext assembles the LLM-visible history for a conversation: the
// executive summary (when one exists) followed by the longest recent
// message suffix that fits the token budget.
func (s *Service) GetContext(ctx context.Context, conversationID string) ([]llms.Message, error) {
	messages, err := s.loadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	counted := make([]tokens.Message, len(messages))
	for i, msg := range messages {
		counted[i] = tokens.Message{Role: string(msg.Role), Content: msg.Content}
	}

	budget := s.cfg.ContextTokenBudget
	summary, hasSummary, err := s.cache.Get(ctx, summaryKey(conversationID))
	if err != nil {
		slog.Warn("Failed to read summary", "conversation_id", conversationID, "error", err)
		hasSummary = false
	}
	var summaryContent string
	if hasSummary {
		// Charge the budget for the summary message as it will actually be
		// sent: prefix and per-message overhead included. FitWithinLimit
		// already accounts for the reply priming, so that share is dropped.
		summaryContent = "Conversation summary so far:\n" + summary
		cost := s.counter.CountMessages([]tokens.Message{{
			Role:    string(protocol.RoleSystem),
			Content: summaryContent,
		}}) - 3
		budget -= cost
		if budget < 0 {
			budget = 0
		}
	}

	fitted := s.counter.FitWithinLimit(counted, budget)

	out := make([]llms.Message, 0, len(fitted)+1)
	if hasSummary {
		out = append(out, llms.Message{
			Role:    protocol.RoleSystem,
			Content: summaryContent,
		})
	}
	for _, msg := range fitted {
		out = append(out, llms.Message{
			Role:    protocol.Role(msg.Role),
			Content: msg.Content,
		})
	}
	return out, nil
}

// GetExecutiveSummary returns the stored summary, or empty when none has
// been generated yet.
func (s *Service) GetExecutiveSummary(ctx context.Context, conversationID string) (string, error) {
	summary, ok, err := s.cache.Get(ctx, summaryKey(conversationID))
	if err != nil {
		return "", fmt.Errorf("failed to read summary for %s: %w", conversationID, err)
	}
	if !ok {
		return "", nil
	}
	return summary, nil
}

// History returns the deduplicated messages of a conversation, oldest
// first, capped at limit when limit > 0.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]protocol.Message, error) {
	messages, err := s.loadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// ScheduleSummarize refreshes the executive summary in the background when
// the conversation has grown enough. Failures are logged, never surfaced;
// summaries are an optimization, not a dependency.
func (s *Service) ScheduleSummarize(conversationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SummaryTimeout)
		defer cancel()

		if err := s.maybeSummarize(ctx, conversationID); err != nil {
			slog.Warn("Background summarization failed",
				"conversation_id", conversationID,
				"error", err)
		}
	}()
}

func (s *Service) maybeSummarize(ctx context.Context, conversationID string) error {
	messages, err := s.loadMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	count := len(messages)
	if count < s.cfg.SummaryThreshold {
		return nil
	}
	if (count-s.cfg.SummaryThreshold)%s.cfg.SummaryInterval != 0 {
		return nil
	}

	_, err, _ = s.summaries.Do(conversationID, func() (any, error) {
		return nil, s.summarize(ctx, conversationID, messages)
	})
	return err
}

func (s *Service) summarize(ctx context.Context, conversationID string, messages []protocol.Message) error {
	var transcript strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	prompt := fmt.Sprintf(
		"Summarize the following conversation in at most %d words. "+
			"Keep decisions, open questions and stated user preferences.\n\n%s",
		s.cfg.SummaryMaxWords, transcript.String())

	summary, _, err := s.llm.Generate(ctx, []llms.Message{
		{Role: protocol.RoleUser, Content: prompt},
	})
	if err != nil {
		return fmt.Errorf("summary generation failed: %w", err)
	}

	if err := s.cache.Set(ctx, summaryKey(conversationID), strings.TrimSpace(summary), 0); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}

	slog.Debug("Refreshed conversation summary",
		"conversation_id", conversationID,
		"messages", len(messages))
	return nil
}

// CleanupMessages rewrites a conversation's cache list with duplicates
// removed, first occurrence winning. Returns how many entries were
// dropped. Intended for offline maintenance, not the request path.
func (s *Service) CleanupMessages(ctx context.Context, conversationID string) (int, error) {
	key := messagesKey(conversationID)
	entries, err := s.cache.ListRange(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache for %s: %w", conversationID, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, len(entries))
	kept := make([]string, 0, len(entries))
	for _, entry := range entries {
		msg, err := protocol.DecodeMessage(entry)
		if err != nil || msg.ID == "" {
			kept = append(kept, entry)
			continue
		}
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		kept = append(kept, entry)
	}

	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.cache.ListReplace(ctx, key, kept); err != nil {
		return 0, fmt.Errorf("failed to rewrite cache for %s: %w", conversationID, err)
	}
	return removed, nil
}
