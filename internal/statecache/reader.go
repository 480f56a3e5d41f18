package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"calld/internal/telephony"

	"github.com/redis/go-redis/v9"
)

// Entry is the application binding of one channel.
//
// The cache is maintained by the application runtime; this package only
// reads it. A miss (ErrNotFound) is a normal outcome: the channel is simply
// not bound to any application yet.
type Entry struct {
	App         string `json:"app"`
	AppInstance string `json:"app_instance"`
	State       string `json:"state"`
}

// ErrNotFound means the channel has no cache entry.
var ErrNotFound = errors.New("statecache: channel not found")

type Reader interface {
	Get(ctx context.Context, channelID string) (Entry, error)
}

// GlobalVarPrefix prefixes the backend global variable holding one
// channel's entry as JSON.
const GlobalVarPrefix = "ACCENT_CHANNEL_STATE_"

// GlobalVars is the slice of telephony.Backend this reader needs.
type GlobalVars interface {
	GlobalVar(ctx context.Context, name string) (string, error)
}

// GlobalVarReader reads entries stored as backend global variables.
type GlobalVarReader struct {
	vars GlobalVars
}

func NewGlobalVarReader(vars GlobalVars) *GlobalVarReader {
	return &GlobalVarReader{vars: vars}
}

func (r *GlobalVarReader) Get(ctx context.Context, channelID string) (Entry, error) {
	raw, err := r.vars.GlobalVar(ctx, GlobalVarPrefix+channelID)
	if err != nil {
		if errors.Is(err, telephony.ErrVariableNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("statecache: read %s: %w", channelID, err)
	}
	if raw == "" {
		return Entry{}, ErrNotFound
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, fmt.Errorf("statecache: decode %s: %w", channelID, err)
	}
	return e, nil
}

// KeyPrefix prefixes the redis hash holding one channel's entry
// (fields: app, app_instance, state).
const KeyPrefix = "calld:channel-state:"

// RedisReader reads entries stored as redis hashes.
type RedisReader struct {
	rdb *redis.Client
}

func NewRedisReader(rdb *redis.Client) *RedisReader {
	return &RedisReader{rdb: rdb}
}

func Key(channelID string) string {
	return KeyPrefix + channelID
}

func (r *RedisReader) Get(ctx context.Context, channelID string) (Entry, error) {
	if r.rdb == nil {
		return Entry{}, errors.New("statecache: redis client is nil")
	}
	fields, err := r.rdb.HGetAll(ctx, Key(channelID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("statecache: read %s: %w", channelID, err)
	}
	if len(fields) == 0 {
		return Entry{}, ErrNotFound
	}
	return Entry{
		App:         fields["app"],
		AppInstance: fields["app_instance"],
		State:       fields["state"],
	}, nil
}
