// Package messaging publishes and consumes chat messages over the key-value
// store's pub/sub.
package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacentio/tendril/kv"
)

// Channel is the default chat channel.
const Channel = "chat"

// Handler processes one received message.
type Handler func(ctx context.Context, msg kv.Message)

// LogHandler logs every message at info level.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, msg kv.Message) {
		logger.InfoContext(ctx, fmt.Sprintf("Message from '%s': %s", msg.Channel, msg.Payload))
	}
}

// Publisher sends text messages to one channel.
type Publisher struct {
	ps      kv.PubSub
	channel string
}

// NewPublisher creates a Publisher on channel, or on Channel when empty.
func NewPublisher(ps kv.PubSub, channel string) *Publisher {
	if channel == "" {
		channel = Channel
	}
	return &Publisher{ps: ps, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, text string) error {
	if err := p.ps.Publish(ctx, p.channel, text); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Listener hands every message of its channels to a handler.
type Listener struct {
	ps       kv.PubSub
	channels []string
	handler  Handler
	log      *slog.Logger
}

// NewListener creates a Listener. A nil handler logs messages; no channels
// means Channel.
func NewListener(ps kv.PubSub, handler Handler, logger *slog.Logger, channels ...string) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = LogHandler(logger)
	}
	if len(channels) == 0 {
		channels = []string{Channel}
	}
	return &Listener{ps: ps, channels: channels, handler: handler, log: logger}
}

// Subscribe opens the subscription Serve consumes.
func (l *Listener) Subscribe(ctx context.Context) (kv.Subscription, error) {
	sub, err := l.ps.Subscribe(ctx, l.channels...)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %v: %w", l.channels, err)
	}
	return sub, nil
}

// Serve handles messages from sub until ctx ends or the subscription closes.
// It closes sub before returning.
func (l *Listener) Serve(ctx context.Context, sub kv.Subscription) error {
	defer sub.Close()

	l.log.InfoContext(ctx, "listening", "channels", l.channels)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				l.log.InfoContext(ctx, "subscription closed", "channels", l.channels)
				return nil
			}
			l.handler(ctx, msg)
		}
	}
}

// Run subscribes and serves until ctx ends.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.Subscribe(ctx)
	if err != nil {
		return err
	}
	return l.Serve(ctx, sub)
}
