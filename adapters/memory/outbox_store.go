package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.OutboxStore = (*OutboxStore)(nil)

// OutboxStore provides an in-memory implementation of adapters.OutboxStore.
// This is primarily intended for testing and development purposes.
type OutboxStore struct {
	mu       sync.RWMutex
	messages map[string]*adapters.OutboxMessage
}

// NewOutboxStore creates a new in-memory OutboxStore.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{
		messages: make(map[string]*adapters.OutboxMessage),
	}
}

// Schedule stores outbox messages for later processing.
func (s *OutboxStore) Schedule(ctx context.Context, messages []*adapters.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		if msg.ScheduledAt.IsZero() {
			msg.ScheduledAt = now
		}
		if msg.MaxAttempts == 0 {
			msg.MaxAttempts = 5
		}
		msg.Status = adapters.OutboxPending

		copied := s.copyMessage(msg)
		s.messages[copied.ID] = copied
	}

	return nil
}

// FetchPending atomically claims up to limit pending messages for processing.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]*adapters.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	var pending []*adapters.OutboxMessage
	for _, msg := range s.messages {
		if msg.Status == adapters.OutboxPending && !msg.ScheduledAt.After(now) {
			pending = append(pending, msg)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ScheduledAt.Before(pending[j].ScheduledAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]*adapters.OutboxMessage, len(pending))
	for i, msg := range pending {
		msg.Status = adapters.OutboxProcessing
		msg.Attempts++
		msg.LastAttemptAt = &now
		result[i] = s.copyMessage(msg)
	}

	return result, nil
}

// MarkCompleted marks messages as successfully delivered.
func (s *OutboxStore) MarkCompleted(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		msg, exists := s.messages[id]
		if !exists {
			continue
		}
		msg.Status = adapters.OutboxCompleted
		msg.ProcessedAt = &now
	}

	return nil
}

// MarkFailed marks a message as failed with an error description.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, lastErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return adapters.ErrOutboxMessageNotFound
	}

	msg.Status = adapters.OutboxFailed
	if lastErr != nil {
		msg.LastError = lastErr.Error()
	}

	return nil
}

// RetryFailed resets eligible failed messages (below maxAttempts) to pending.
func (s *OutboxStore) RetryFailed(ctx context.Context, maxAttempts int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, msg := range s.messages {
		if msg.Status == adapters.OutboxFailed && msg.Attempts < maxAttempts {
			msg.Status = adapters.OutboxPending
			count++
		}
	}

	return count, nil
}

// MoveToDeadLetter transitions messages that exceeded maxAttempts to dead letter.
func (s *OutboxStore) MoveToDeadLetter(ctx context.Context, maxAttempts int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, msg := range s.messages {
		if msg.Status == adapters.OutboxFailed && msg.Attempts >= maxAttempts {
			msg.Status = adapters.OutboxDeadLetter
			count++
		}
	}

	return count, nil
}

// CleanupCompleted removes completed messages older than the given age.
func (s *OutboxStore) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var count int64
	for id, msg := range s.messages {
		if msg.Status == adapters.OutboxCompleted && msg.ProcessedAt != nil && msg.ProcessedAt.Before(cutoff) {
			delete(s.messages, id)
			count++
		}
	}

	return count, nil
}

// CountPending returns the number of messages waiting for delivery.
func (s *OutboxStore) CountPending(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, msg := range s.messages {
		if msg.Status == adapters.OutboxPending {
			count++
		}
	}
	return count, nil
}

// Clear removes all messages (useful for testing).
func (s *OutboxStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]*adapters.OutboxMessage)
}

// CountByStatus returns the count of messages by status.
func (s *OutboxStore) CountByStatus() map[adapters.OutboxStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[adapters.OutboxStatus]int)
	for _, msg := range s.messages {
		counts[msg.Status]++
	}
	return counts
}

// copyMessage creates a deep copy of an OutboxMessage.
func (s *OutboxStore) copyMessage(msg *adapters.OutboxMessage) *adapters.OutboxMessage {
	copied := &adapters.OutboxMessage{
		ID:          msg.ID,
		AggregateID: msg.AggregateID,
		EventType:   msg.EventType,
		Destination: msg.Destination,
		Status:      msg.Status,
		Attempts:    msg.Attempts,
		MaxAttempts: msg.MaxAttempts,
		LastError:   msg.LastError,
		ScheduledAt: msg.ScheduledAt,
		CreatedAt:   msg.CreatedAt,
	}

	if msg.Payload != nil {
		copied.Payload = make([]byte, len(msg.Payload))
		copy(copied.Payload, msg.Payload)
	}

	if msg.Headers != nil {
		copied.Headers = make(map[string]string, len(msg.Headers))
		for k, v := range msg.Headers {
			copied.Headers[k] = v
		}
	}

	if msg.LastAttemptAt != nil {
		t := *msg.LastAttemptAt
		copied.LastAttemptAt = &t
	}

	if msg.ProcessedAt != nil {
		t := *msg.ProcessedAt
		copied.ProcessedAt = &t
	}

	return copied
}
