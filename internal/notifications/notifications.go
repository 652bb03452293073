// Package notifications delivers crawl lifecycle events to external
// channels. It is adapted from a DB-trigger-driven delivery design that
// polled a notifications table for rows a Postgres trigger had already
// inserted and formatted; this version is engine-event-driven — the engine
// emits an Event directly and each DeliveryChannel formats and sends it
// itself, with no DB in the loop.
package notifications

import (
	"context"

	"github.com/rs/zerolog/log"
)

// EventKind tags why an Event was emitted.
type EventKind int

const (
	EventSpiderCompleted EventKind = iota
	EventMaxRetriesReached
	EventStorageFailure
)

func (k EventKind) String() string {
	switch k {
	case EventSpiderCompleted:
		return "spider_completed"
	case EventMaxRetriesReached:
		return "max_retries_reached"
	case EventStorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Event is a single notifiable occurrence during a crawl.
type Event struct {
	Kind    EventKind
	Spider  string
	URL     string
	Summary string
	Detail  string
}

// DeliveryChannel formats and sends an Event to one external destination.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Service fans out every Emit call to all registered channels, logging
// (not failing) delivery errors — a notification failure must never abort
// a crawl.
type Service struct {
	channels []DeliveryChannel
}

func NewService(channels ...DeliveryChannel) *Service {
	return &Service{channels: channels}
}

func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

func (s *Service) Emit(ctx context.Context, event Event) {
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("event", event.Kind.String()).
				Msg("failed to deliver crawl notification")
		}
	}
}
