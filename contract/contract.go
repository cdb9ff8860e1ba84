//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-engine/domain"
	"chat-engine/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives events routed by the fanout workers.
// Consume must not block longer than ctx allows.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry resolves the live sinks subscribed to a topic.
type IRegistry interface {
	GetSinksForTopic(topic domain.Topic) []EventSink
}

// Handler is invoked for every event of a subscribed topic.
type Handler func(e event.DomainEvent)

// Subscription is the handle returned by Subscribe. Cancel is the only
// valid teardown and is safe to call more than once.
type Subscription interface {
	ID() string
	Topic() domain.Topic
	Cancel()
}

type IBus interface {
	Subscribe(topic domain.Topic, subscriberID string, handler Handler) (Subscription, error)
	Publish(ctx context.Context, e event.DomainEvent) error
}

// UserDirectory is the user/profile collaborator.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// FollowGraph is only used to build the "start chat with a connection" list.
type FollowGraph interface {
	ListFollowing(ctx context.Context, userID string) ([]string, error)
	ListFollowers(ctx context.Context, userID string) ([]string, error)
}

type CountryDetector interface {
	DetectCountry(ctx context.Context) (domain.Country, error)
}

// SenderValidator authorizes writes to a topic log.
type SenderValidator interface {
	CanPost(ctx context.Context, topic domain.Topic, userID string) error
}

// TopicResolver lists every topic a user currently participates in.
type TopicResolver interface {
	TopicsOf(ctx context.Context, userID string) ([]domain.Topic, error)
}
