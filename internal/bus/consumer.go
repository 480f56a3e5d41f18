package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"calld/internal/calls"
	"calld/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Consumer subscribes to the backend event channel and dispatches each
// event to the handler registered for its name.
type Consumer struct {
	rdb      *redis.Client
	channel  string
	handlers map[string]func(context.Context, calls.Event)
	log      *slog.Logger
}

func NewConsumer(rdb *redis.Client, channel string, handlers map[string]func(context.Context, calls.Event), log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{rdb: rdb, channel: channel, handlers: handlers, log: log}
}

// Run consumes events until ctx is cancelled or the subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	ps := c.rdb.Subscribe(ctx, c.channel)
	defer ps.Close()

	// Wait for the subscription to be confirmed so startup failures surface.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", c.channel, err)
	}
	c.log.Info("bus consumer started", "channel", c.channel)

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.Dispatch(ctx, []byte(m.Payload)); err != nil {
				c.log.Warn("bus event dropped", "err", err)
			}
		}
	}
}

// Dispatch decodes one payload and runs its handler. Events nobody
// handles are ignored.
func (c *Consumer) Dispatch(ctx context.Context, payload []byte) error {
	ev, err := decodeEvent(payload)
	if err != nil {
		return err
	}
	name := ev["Event"]
	h, ok := c.handlers[name]
	if !ok {
		return nil
	}
	h(logger.With(ctx, c.log.With("event", name)), ev)
	return nil
}

// decodeEvent accepts either a bare event object or an envelope carrying
// the event under "data". Non-string values are stringified.
func decodeEvent(payload []byte) (calls.Event, error) {
	var env struct {
		Name string                 `json:"name"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("bus: decode event: %w", err)
	}
	raw := env.Data
	if raw == nil {
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("bus: decode event: %w", err)
		}
	}
	ev := make(calls.Event, len(raw))
	for k, v := range raw {
		// nested objects (ChanVariable) flatten to "Key(Name)" fields
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range nested {
				ev[k+"("+nk+")"] = stringify(nv)
			}
			continue
		}
		ev[k] = stringify(v)
	}
	if ev["Event"] == "" && env.Name != "" {
		ev["Event"] = env.Name
	}
	return ev, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
