package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacentio/tendril/kv"
	"github.com/jacentio/tendril/messaging"
)

// ExpiredChannel returns the keyevent channel Redis publishes expired keys on.
func ExpiredChannel(db int) string {
	return fmt.Sprintf("__keyevent@%d__:expired", db)
}

// ExpiryListener purges entity keys reported by expired-key notifications.
// The server must have keyspace events enabled (rediskv.Store.EnableKeyspaceEvents).
type ExpiryListener struct {
	*messaging.Listener
}

// NewExpiryListener creates a listener on the expired channel of database db.
func NewExpiryListener(ps kv.PubSub, p Purger, logger *slog.Logger, db int) *ExpiryListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryListener{
		Listener: messaging.NewListener(ps, purgeHandler(p, logger), logger, ExpiredChannel(db)),
	}
}

func purgeHandler(p Purger, logger *slog.Logger) messaging.Handler {
	return func(ctx context.Context, msg kv.Message) {
		if err := p.Purge(ctx, msg.Payload); err != nil {
			logger.WarnContext(ctx, "failed to purge expired key",
				"key", msg.Payload,
				"error", err,
			)
			return
		}
		logger.DebugContext(ctx, "purged expired key", "key", msg.Payload)
	}
}
