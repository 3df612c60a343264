package remote

import (
	"context"
	"encoding/json"
)

// Collection names the two document collections the engine syncs.
type Collection string

const (
	CollectionThreads  Collection = "threads"
	CollectionMessages Collection = "messages"
)

// EventKind classifies a push event.
type EventKind int

const (
	EventAdded EventKind = iota
	EventModified
	EventRemoved
)

// Event is a push notification that a subscribed document changed. Doc
// always carries the full document after the change, so applying the same
// event twice is a no-op for consumers.
type Event struct {
	Kind       EventKind       `json:"kind"`
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Doc        json.RawMessage `json:"doc,omitempty"`
}

// Scope selects the documents a subscription observes.
type Scope struct {
	Collection  Collection
	Participant string
	ThreadID    string
}

// ThreadsFor scopes a subscription to threads the user participates in.
func ThreadsFor(userID string) Scope {
	return Scope{Collection: CollectionThreads, Participant: userID}
}

// MessagesIn scopes a subscription to one thread's messages.
func MessagesIn(threadID string) Scope {
	return Scope{Collection: CollectionMessages, ThreadID: threadID}
}

// Subscription is a live query handle.
type Subscription interface {
	Unsubscribe()
}

// Channel abstracts the remote multi-writer document store. Delivery is
// at-least-once and unordered; consumers must merge idempotently.
type Channel interface {
	// Subscribe opens a live query. Matching documents already present are
	// delivered as added events, then changes stream until Unsubscribe.
	Subscribe(ctx context.Context, scope Scope, onEvent func(Event), onError func(error)) (Subscription, error)

	// WriteOnce merges the given fields into the identified document,
	// creating it if absent.
	WriteOnce(ctx context.Context, collection Collection, id string, fields map[string]any) error
}
