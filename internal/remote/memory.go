package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryChannel is an in-process Channel used in tests and when no broker
// is configured. It mirrors the contract of the backed implementation:
// full-document events, at-least-once delivery, unordered merges tolerated.
type MemoryChannel struct {
	mu           sync.Mutex
	docs         map[Collection]map[string]map[string]any
	subs         map[int]*memorySub
	nextSubID    int
	writeErr     error
	writeErrByID map[string]error
	subscribeErr error
}

type memorySub struct {
	ch      *MemoryChannel
	id      int
	scope   Scope
	onEvent func(Event)
}

// NewMemoryChannel creates an empty channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		docs:         make(map[Collection]map[string]map[string]any),
		subs:         make(map[int]*memorySub),
		writeErrByID: make(map[string]error),
	}
}

// SetWriteErr makes every subsequent write fail with err (nil clears).
func (c *MemoryChannel) SetWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// FailWriteFor makes writes to one document fail with err (nil clears).
func (c *MemoryChannel) FailWriteFor(collection Collection, id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := string(collection) + "/" + id
	if err == nil {
		delete(c.writeErrByID, key)
		return
	}
	c.writeErrByID[key] = err
}

// SetSubscribeErr makes Subscribe fail with err (nil clears).
func (c *MemoryChannel) SetSubscribeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// SubCount reports the live subscription count.
func (c *MemoryChannel) SubCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Subscribe delivers current matches as added events, then live changes.
func (c *MemoryChannel) Subscribe(ctx context.Context, scope Scope, onEvent func(Event), onError func(error)) (Subscription, error) {
	c.mu.Lock()
	if c.subscribeErr != nil {
		err := c.subscribeErr
		c.mu.Unlock()
		return nil, err
	}
	sub := &memorySub{ch: c, id: c.nextSubID, scope: scope, onEvent: onEvent}
	c.nextSubID++
	c.subs[sub.id] = sub

	var initial []Event
	ids := make([]string, 0, len(c.docs[scope.Collection]))
	for id := range c.docs[scope.Collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		doc := c.docs[scope.Collection][id]
		if matchScope(scope, doc) {
			initial = append(initial, buildEvent(EventAdded, scope.Collection, id, doc))
		}
	}
	c.mu.Unlock()

	for _, ev := range initial {
		onEvent(ev)
	}
	return sub, nil
}

func (s *memorySub) Unsubscribe() {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()
	delete(s.ch.subs, s.id)
}

// WriteOnce merges fields into the document and fans the full result out to
// matching subscribers. Subscribers whose scope matched the prior document
// but not the merged one receive a removed event, so a participant dropped
// from a thread hears it leave their scope.
func (c *MemoryChannel) WriteOnce(ctx context.Context, collection Collection, id string, fields map[string]any) error {
	c.mu.Lock()
	if err := c.writeErrByID[string(collection)+"/"+id]; err != nil {
		c.mu.Unlock()
		return err
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}

	if c.docs[collection] == nil {
		c.docs[collection] = make(map[string]map[string]any)
	}
	doc, exists := c.docs[collection][id]
	if !exists {
		doc = make(map[string]any)
	}
	var prior []*memorySub
	if exists {
		prior = c.matchingSubs(collection, doc)
	}
	for k, v := range fields {
		doc[k] = v
	}
	c.docs[collection][id] = doc

	kind := EventModified
	if !exists {
		kind = EventAdded
	}
	ev := buildEvent(kind, collection, id, doc)
	targets := c.matchingSubs(collection, doc)
	exited := subsNotIn(prior, targets)
	c.mu.Unlock()

	removed := Event{Kind: EventRemoved, Collection: collection, ID: id}
	for _, sub := range exited {
		sub.onEvent(removed)
	}
	for _, sub := range targets {
		sub.onEvent(ev)
	}
	return nil
}

// Remove deletes a document and notifies matching subscribers.
func (c *MemoryChannel) Remove(collection Collection, id string) {
	c.mu.Lock()
	doc, ok := c.docs[collection][id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.docs[collection], id)
	ev := Event{Kind: EventRemoved, Collection: collection, ID: id}
	targets := c.matchingSubs(collection, doc)
	c.mu.Unlock()

	for _, sub := range targets {
		sub.onEvent(ev)
	}
}

func subsNotIn(prior, current []*memorySub) []*memorySub {
	var out []*memorySub
	for _, p := range prior {
		found := false
		for _, cur := range current {
			if cur.id == p.id {
				found = true
				break
			}
		}
		if !found {
			out = append(out, p)
		}
	}
	return out
}

func (c *MemoryChannel) matchingSubs(collection Collection, doc map[string]any) []*memorySub {
	var targets []*memorySub
	for _, sub := range c.subs {
		if sub.scope.Collection == collection && matchScope(sub.scope, doc) {
			targets = append(targets, sub)
		}
	}
	return targets
}

func matchScope(scope Scope, doc map[string]any) bool {
	switch scope.Collection {
	case CollectionThreads:
		return containsString(doc["participants"], scope.Participant)
	case CollectionMessages:
		threadID, _ := doc["thread_id"].(string)
		return threadID == scope.ThreadID
	default:
		return false
	}
}

func containsString(val any, want string) bool {
	switch list := val.(type) {
	case []string:
		for _, v := range list {
			if v == want {
				return true
			}
		}
	case []any:
		for _, v := range list {
			if s, ok := v.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func buildEvent(kind EventKind, collection Collection, id string, doc map[string]any) Event {
	raw, err := json.Marshal(doc)
	if err != nil {
		raw = json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
	}
	return Event{Kind: kind, Collection: collection, ID: id, Doc: raw}
}
