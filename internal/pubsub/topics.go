package pubsub

import "fmt"

// Topic conventions for lifecycle subscriptions (spec.md §6 "Pub/sub
// topics"): every instance type publishes to "<TypeName>.created" and
// "<TypeName>.updated".

const (
	suffixCreated = "created"
	suffixUpdated = "updated"
)

// CreatedTopic returns the topic a typeName's create events publish to.
func CreatedTopic(typeName string) string {
	return fmt.Sprintf("%s.%s", typeName, suffixCreated)
}

// UpdatedTopic returns the topic a typeName's update/destroy/task-completion
// events publish to.
func UpdatedTopic(typeName string) string {
	return fmt.Sprintf("%s.%s", typeName, suffixUpdated)
}
