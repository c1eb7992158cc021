// Package redishost exposes trigger cards over Redis: triggers are
// published to a channel per card, rule arguments are read from a list per
// card and hit counts live in a single hash.
package redishost

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"calwatch/internal/dispatch"
	appLog "calwatch/internal/log"
)

type Config struct {
	Address       string `json:"address"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	PoolSize      int    `json:"pool_size"`
	ChannelPrefix string `json:"channel_prefix"`
}

type Host struct {
	rdb    *redis.Client
	prefix string
}

// Message is the payload published for every trigger.
type Message struct {
	Trigger string          `json:"trigger"`
	Tokens  dispatch.Tokens `json:"tokens"`
	State   *dispatch.State `json:"state,omitempty"`
}

func New(config *Config) (*Host, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.ChannelPrefix == "" {
		config.ChannelPrefix = "calwatch"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Host{rdb: rdb, prefix: config.ChannelPrefix}, nil
}

func (h *Host) Close() error {
	return h.rdb.Close()
}

func (h *Host) Health(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}

func (h *Host) TriggerChannel(id string) string { return h.prefix + ":trigger:" + id }
func (h *Host) ArgsKey(id string) string        { return h.prefix + ":args:" + id }
func (h *Host) HitsKey() string                 { return h.prefix + ":hits" }

func (h *Host) TriggerCard(id string) dispatch.TriggerCard {
	return &card{host: h, id: id}
}

// Increment bumps the hit counter of a card. Arguments become part of the
// hash field in sorted key order: "<id>|k=v|k=v".
func (h *Host) Increment(ctx context.Context, id string, args map[string]string) error {
	if err := h.rdb.HIncrBy(ctx, h.HitsKey(), hitField(id, args), 1).Err(); err != nil {
		return fmt.Errorf("failed to increment hit count: %w", err)
	}
	return nil
}

// Hits returns all hit counters.
func (h *Host) Hits(ctx context.Context) (map[string]string, error) {
	hits, err := h.rdb.HGetAll(ctx, h.HitsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hit counts: %w", err)
	}
	return hits, nil
}

func hitField(id string, args map[string]string) string {
	if len(args) == 0 {
		return id
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(id)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(args[k])
	}
	return b.String()
}

type card struct {
	host *Host
	id   string
}

func (c *card) Trigger(ctx context.Context, tokens dispatch.Tokens, state *dispatch.State) error {
	data, err := json.Marshal(Message{Trigger: c.id, Tokens: tokens, State: state})
	if err != nil {
		return fmt.Errorf("failed to marshal trigger %s: %w", c.id, err)
	}
	if err := c.host.rdb.Publish(ctx, c.host.TriggerChannel(c.id), data).Err(); err != nil {
		return fmt.Errorf("failed to publish trigger %s: %w", c.id, err)
	}
	return nil
}

// ArgumentValues returns the decoded entries of the card's argument list.
// A missing key is an empty list. A key holding another type yields its
// type name, which callers treat as "no rules". Entries that are JSON null
// or cannot be decoded come back as nil.
func (c *card) ArgumentValues(ctx context.Context) (any, error) {
	key := c.host.ArgsKey(c.id)

	kind, err := c.host.rdb.Type(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read type of %s: %w", key, err)
	}
	switch kind {
	case "none":
		return []*dispatch.ArgumentValue{}, nil
	case "list":
	default:
		return kind, nil
	}

	raw, err := c.host.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	values := make([]*dispatch.ArgumentValue, 0, len(raw))
	for i, entry := range raw {
		var v *dispatch.ArgumentValue
		if err := json.Unmarshal([]byte(entry), &v); err != nil {
			appLog.Warn("redishost: undecodable argument value", "key", key, "index", i, "err", err)
			v = nil
		}
		values = append(values, v)
	}
	return values, nil
}
