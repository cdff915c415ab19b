package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink receives a copy of the bus stream outside the process (message broker,
// push service).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// StartRelay attaches sink to bus before returning, so every event published
// after the call reaches it, then forwards in the background until ctx is done
// or the bus closes. The returned channel is closed when forwarding stops.
// Delivery errors are logged; a slow sink only loses its own events.
func StartRelay(ctx context.Context, bus *Bus, sink Sink, log zerolog.Logger) (<-chan struct{}, error) {
	sub, err := bus.Subscribe()
	if err != nil {
		return nil, err
	}

	l := log.With().Str("sink", sink.Name()).Logger()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Close()
		forward(ctx, sub, sink, l)
	}()
	l.Info().Msg("relay started")
	return done, nil
}

func forward(ctx context.Context, sub *Subscription, sink Sink, l zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				l.Info().Msg("relay stopped, bus closed")
				return
			}
			if err := sink.Deliver(ctx, evt); err != nil {
				l.Warn().Err(err).Str("type", evt.Type).Msg("relay delivery failed")
			}
		}
	}
}
