package main

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"instanceresolver/internal/pubsub"
)

// startAuditSubscriber subscribes to one lifecycle topic and logs every
// created/updated event it receives, for operators who want a standing
// record of instance lifecycle activity without standing up the full
// GraphQL subscription transport (spec.md §6 "event subscriptions" is
// otherwise served by the out-of-scope GraphQL server, see cmd's doc
// comment on srv).
func startAuditSubscriber(ctx context.Context, zlog *zap.Logger, ps pubsub.PubSub, topic string) {
	ch, unsub := ps.Subscribe(ctx, topic)
	go func() {
		defer pubsub.RecoverSubscription(topic, unsub, ch)
		for msg := range ch {
			var event pubsub.LifecycleEvent
			if err := json.Unmarshal(msg, &event); err != nil {
				zlog.Warn("audit subscriber: malformed lifecycle event", zap.String("topic", topic), zap.Error(err))
				continue
			}
			zlog.Info("lifecycle event", zap.String("topic", topic), zap.Any("event", event))
		}
	}()
}
