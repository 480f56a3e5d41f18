package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"calld/internal/calls"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is the envelope every notification is published in.
type Message struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	TenantUUID string     `json:"tenant_uuid,omitempty"`
	UserUUID   string     `json:"user_uuid,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Data       calls.Call `json:"data"`
	Digit      string     `json:"digit,omitempty"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher publishes call notifications on redis channels named
// prefix + notification name.
type Publisher struct {
	rdb    redisPublisher
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewPublisher(rdb *redis.Client, prefix string) *Publisher {
	return newPublisher(rdb, prefix)
}

func newPublisher(rdb redisPublisher, prefix string) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix, now: time.Now, newID: uuid.NewString}
}

func (p *Publisher) CallCreated(ctx context.Context, call calls.Call) error {
	return p.publish(ctx, "call_created", call, "")
}

func (p *Publisher) CallUpdated(ctx context.Context, call calls.Call) error {
	return p.publish(ctx, "call_updated", call, "")
}

func (p *Publisher) CallAnswered(ctx context.Context, call calls.Call) error {
	return p.publish(ctx, "call_answered", call, "")
}

func (p *Publisher) CallHeld(ctx context.Context, call calls.Call) error {
	return p.publish(ctx, "call_held", call, "")
}

func (p *Publisher) CallResumed(ctx context.Context, call calls.Call) error {
	return p.publish(ctx, "call_resumed", call, "")
}

func (p *Publisher) CallEnded(ctx context.Context, call calls.Call) error {
	return p.publish(ctx, "call_ended", call, "")
}

func (p *Publisher) CallDTMF(ctx context.Context, call calls.Call, digit string) error {
	return p.publish(ctx, "call_dtmf", call, digit)
}

func (p *Publisher) publish(ctx context.Context, name string, call calls.Call, digit string) error {
	msg := Message{
		ID:         p.newID(),
		Name:       name,
		TenantUUID: call.TenantUUID,
		UserUUID:   call.UserUUID,
		Timestamp:  p.now().UTC(),
		Data:       call,
		Digit:      digit,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", name, err)
	}
	if err := p.rdb.Publish(ctx, p.prefix+name, b).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", name, err)
	}
	return nil
}
