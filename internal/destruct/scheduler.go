// Package destruct runs the background sweep for self-destructing messages: notify conversation members, then delete.
// Notification precedes deletion so a crash between the two replays the same events next tick rather than losing them;
// clients treat DELETE_MESSAGE as idempotent.
package destruct

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/conversation"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/liveupdates"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/message"
)

// Broadcaster fans a payload out to the live sessions of the target identities.
type Broadcaster interface {
	Broadcast(targets []string, payload []byte)
}

// Scheduler is the singleton sweep worker.
type Scheduler struct {
	messages      message.Repository
	conversations conversation.Repository
	broadcaster   Broadcaster
	interval      time.Duration
	log           zerolog.Logger
}

// NewScheduler creates a scheduler sweeping at the given cadence.
func NewScheduler(
	messages message.Repository,
	conversations conversation.Repository,
	broadcaster Broadcaster,
	interval time.Duration,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		messages:      messages,
		conversations: conversations,
		broadcaster:   broadcaster,
		interval:      interval,
		log:           logger.With().Str("component", "destruct").Logger(),
	}
}

// Run sweeps until the context is cancelled. Every error is logged and swallowed; the next tick retries.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one sweep: load expired messages, notify members, delete.
func (s *Scheduler) tick(ctx context.Context) {
	expired, err := s.messages.Expired(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load expired messages")
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, ref := range expired {
		members, err := s.conversations.GetMembers(ctx, ref.ConversationID)
		if err != nil {
			s.log.Warn().Err(err).Stringer("conversation_id", ref.ConversationID).
				Msg("Failed to load members for delete notification")
			continue
		}

		frame, err := liveupdates.NewEventFrame(liveupdates.EventDeleteMessage, liveupdates.DeleteMessageData{
			ConversationID: ref.ConversationID.String(),
			MessageID:      ref.MessageID.String(),
		})
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to build delete message event")
			continue
		}
		s.broadcaster.Broadcast(members, frame)
	}

	if err := s.messages.DeleteExpired(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to delete expired messages")
		return
	}

	s.log.Info().Int("deleted", len(expired)).Msg("Destroyed expired messages")
}
