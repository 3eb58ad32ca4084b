// Package pubsub provides a publish-subscribe interface for lifecycle
// subscriptions on resolved instance types (spec.md §4.7, §6).
//
// # Architecture
//
// ```
// ┌─────────────┐     ┌─────────────┐     ┌─────────────┐
// │  Resolver   │     │   Redis     │     │ Subscription│
// │  (Publish)  │────▶│   Pub/Sub   │────▶│  Resolver   │
// └─────────────┘     └─────────────┘     └─────────────┘
//
//	│                    │                   │
//
// ┌─────────────┐     ┌─────────────┐     ┌─────────────┐
// │ create()    │     │  Topic:     │     │ GraphQL     │
// │ update()    │     │ Name.created│     │ Subscription│
// │ completeTask│     │ Name.updated│     │  Client     │
// └─────────────┘     └─────────────┘     └─────────────┘
// ```
//
// # Usage
//
// Initialize the pub/sub client:
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	ps := pubsub.NewRedisPubSub(redisClient)
//
// Publish a lifecycle event:
//
//	err := ps.Publish(ctx, pubsub.CreatedTopic("Manuscript"),
//		pubsub.NewCreatedEvent("Manuscript", id))
//
// Subscribe to events:
//
//	ch, unsub := ps.Subscribe(ctx, pubsub.UpdatedTopic("Manuscript"))
//	defer unsub()
//	for msg := range ch {
//		var event pubsub.LifecycleEvent
//		json.Unmarshal(msg, &event)
//		// Handle event
//	}
//
// # Topics
//
// Every instance type publishes to two topics (spec.md §6):
//   - <TypeName>.created
//   - <TypeName>.updated
//
// # Events
//
// LifecycleEvent carries one key, "created<TypeName>" or
// "modified<TypeName>", whose value is the entity id.
package pubsub
