package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Type string

const (
	UserRegistered      Type = "user.registered"
	UserLogin           Type = "user.login"
	UserLoginFailed     Type = "user.login_failed"
	UserPasswordChanged Type = "user.password_changed"
	UserProfileUpdated  Type = "user.profile_updated"
	UserLogout          Type = "user.logout"
)

var ErrMissingType = errors.New("event type missing")

// Event is one entry of the auth audit stream. It never carries secrets.
type Event struct {
	Type   Type
	UserID string
	Email  string
	IP     string
	At     time.Time
}

func (e Event) Values() map[string]any {
	return map[string]any{
		"type":   string(e.Type),
		"userId": e.UserID,
		"email":  e.Email,
		"ip":     e.IP,
		"at":     e.At.UTC().Format(time.RFC3339Nano),
	}
}

func FromValues(values map[string]any) (Event, error) {
	str := func(key string) string {
		if v, ok := values[key]; ok {
			switch s := v.(type) {
			case string:
				return s
			case []byte:
				return string(s)
			default:
				return fmt.Sprint(s)
			}
		}
		return ""
	}

	evt := Event{
		Type:   Type(str("type")),
		UserID: str("userId"),
		Email:  str("email"),
		IP:     str("ip"),
	}
	if evt.Type == "" {
		return Event{}, ErrMissingType
	}
	if at := str("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return Event{}, fmt.Errorf("parse at: %w", err)
		}
		evt.At = parsed
	}
	return evt, nil
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// StreamPublisher appends events to a redis stream capped near maxLen.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: evt.Values(),
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Trim caps the stream at maxLen entries. Publish already trims
// approximately; this is the periodic hard bound.
func (p *StreamPublisher) Trim(ctx context.Context) (int64, error) {
	if p.maxLen <= 0 {
		return 0, nil
	}
	removed, err := p.client.XTrimMaxLen(ctx, p.stream, p.maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s: %w", p.stream, err)
	}
	return removed, nil
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps published events in order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func (p *MemoryPublisher) Types() []Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]Type, 0, len(p.events))
	for _, evt := range p.events {
		types = append(types, evt.Type)
	}
	return types
}
