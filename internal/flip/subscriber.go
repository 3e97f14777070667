// SPDX-License-Identifier: MIT

package flip

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/config"
	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/metrics"
	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/store"
)

// Handler consumes parsed flip events. Handlers must not block; slow
// consumers stall every channel this server is subscribed to.
type Handler func(Event)

// SubscriberConfig selects the channels to listen on.
type SubscriberConfig struct {
	Mode       config.RoutingMode
	ShardCount int
	ServerID   string
}

// Subscriber listens on the flip channels dictated by the routing mode and
// hands each well-formed payload to the handler. Malformed payloads are
// dropped and logged once per failure reason.
type Subscriber struct {
	store   *store.Client
	mode    config.RoutingMode
	shards  int
	server  string
	handler Handler
	logger  zerolog.Logger

	mu     sync.Mutex
	logged map[string]bool
}

// NewSubscriber builds a subscriber delivering into handler.
func NewSubscriber(st *store.Client, cfg SubscriberConfig, handler Handler, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		store:   st,
		mode:    cfg.Mode,
		shards:  cfg.ShardCount,
		server:  cfg.ServerID,
		handler: handler,
		logger:  logger,
		logged:  make(map[string]bool),
	}
}

// channels returns the subscription set for this server.
func (s *Subscriber) channels() []string {
	if s.mode == config.RoutingTargeted {
		return []string{presence.ServerChannel(s.server)}
	}
	shards := s.shards
	if shards < 1 {
		shards = 1
	}
	chans := make([]string, shards)
	for i := range chans {
		chans[i] = presence.FlipChannel(i)
	}
	return chans
}

// Run subscribes and dispatches until ctx is canceled. A nil return means
// clean shutdown; any error means the subscription was lost.
func (s *Subscriber) Run(ctx context.Context) error {
	channels := s.channels()
	pubsub, err := s.store.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	s.logger.Info().
		Strs("channels", channels).
		Str("mode", string(s.mode)).
		Msg("flip subscriber started")

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("flip subscription closed")
			}
			s.dispatch(msg.Payload)
		}
	}
}

func (s *Subscriber) dispatch(payload string) {
	metrics.RecordFlipReceived()

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.dropPayload("malformed_json", err)
		return
	}
	if ev.User == "" {
		s.dropPayload("missing_user", nil)
		return
	}

	s.handler(ev)
}

// dropPayload counts the drop and logs the first occurrence of each reason,
// so a poisoned channel cannot flood the log.
func (s *Subscriber) dropPayload(reason string, err error) {
	metrics.RecordFlipParseFailure(reason)

	s.mu.Lock()
	seen := s.logged[reason]
	s.logged[reason] = true
	s.mu.Unlock()
	if seen {
		return
	}
	s.logger.Warn().Err(err).
		Str("reason", reason).
		Str(log.FieldComponent, "flip").
		Msg("dropping malformed flip payload")
}
