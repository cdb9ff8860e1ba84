package event

// Handler observes every event drained by a fan-out worker, before it is
// delivered to the subscriptions of its topic. Handlers are chained and must
// not block.
type Handler interface {
	Handle(e DomainEvent)
}
