package pubsub

// LifecycleEvent is the payload published on an instance type's created/
// updated topic (spec.md §6): "payload key created<TypeName> /
// modified<TypeName>, value = entity id".
type LifecycleEvent map[string]string

// NewCreatedEvent builds the payload for a create event.
func NewCreatedEvent(typeName, id string) LifecycleEvent {
	return LifecycleEvent{"created" + typeName: id}
}

// NewUpdatedEvent builds the payload for an update/destroy/task-completion
// event.
func NewUpdatedEvent(typeName, id string) LifecycleEvent {
	return LifecycleEvent{"modified" + typeName: id}
}
