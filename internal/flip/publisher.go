// SPDX-License-Identifier: MIT

package flip

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/config"
	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/metrics"
	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/store"
)

// PublisherConfig selects the fan-out strategy.
type PublisherConfig struct {
	Mode       config.RoutingMode
	ShardCount int
}

// Publisher fans presence transitions out to interested servers. Publication
// is best-effort: a failed publish is logged, never surfaced to the session
// that caused the flip.
type Publisher struct {
	store    *store.Client
	watchers *Watchers
	mode     config.RoutingMode
	shards   int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPublisher builds a publisher. watchers may be nil in sharded mode.
func NewPublisher(st *store.Client, watchers *Watchers, cfg PublisherConfig, logger zerolog.Logger) *Publisher {
	return &Publisher{
		store:    st,
		watchers: watchers,
		mode:     cfg.Mode,
		shards:   cfg.ShardCount,
		logger:   logger,
		now:      time.Now,
	}
}

// Publish emits one transition for the user according to the routing mode.
func (p *Publisher) Publish(ctx context.Context, user string, online bool) {
	ev := Event{
		User:        user,
		Online:      online,
		TimestampMS: p.now().UnixMilli(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str(log.FieldUserKey, user).Msg("flip payload marshal failed")
		return
	}

	direction := "offline"
	if online {
		direction = "online"
	}

	switch p.mode {
	case config.RoutingTargeted:
		p.publishTargeted(ctx, user, direction, payload)
	default:
		p.publishSharded(ctx, user, direction, payload)
	}
}

func (p *Publisher) publishSharded(ctx context.Context, user, direction string, payload []byte) {
	channel := presence.FlipChannel(presence.ShardFor(user, p.shards))
	if err := p.store.Publish(ctx, channel, payload); err != nil {
		p.logger.Warn().Err(err).
			Str(log.FieldUserKey, user).
			Str(log.FieldChannel, channel).
			Msg("flip publish failed")
		return
	}
	metrics.RecordFlipPublished(direction, "sharded")
}

func (p *Publisher) publishTargeted(ctx context.Context, user, direction string, payload []byte) {
	servers, err := p.watchers.Members(ctx, user)
	if err != nil {
		p.logger.Warn().Err(err).
			Str(log.FieldUserKey, user).
			Msg("watcher lookup failed, flip dropped")
		return
	}
	if len(servers) == 0 {
		metrics.RecordFlipSkipped()
		return
	}

	for _, serverID := range servers {
		channel := presence.ServerChannel(serverID)
		if err := p.store.Publish(ctx, channel, payload); err != nil {
			p.logger.Warn().Err(err).
				Str(log.FieldUserKey, user).
				Str(log.FieldChannel, channel).
				Msg("flip publish failed")
		}
	}
	metrics.RecordFlipPublished(direction, "targeted")
}
