package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"thread-sync/internal/observability"
	"thread-sync/internal/rabbitmq"
)

const (
	pqUndefinedTable        = "42P01"
	pqInsufficientPrivilege = "42501"
)

// PostgresChannel stores documents as JSONB rows and fans change events out
// through a RabbitMQ topic exchange. Consumers on other instances receive
// the same events, which gives the multi-writer, at-least-once semantics
// the engine is built against.
type PostgresChannel struct {
	db   *sqlx.DB
	pub  rabbitmq.Publisher
	subs rabbitmq.Subscriber
}

// NewPostgresChannel builds the backed channel.
func NewPostgresChannel(db *sqlx.DB, pub rabbitmq.Publisher, subs rabbitmq.Subscriber) *PostgresChannel {
	return &PostgresChannel{db: db, pub: pub, subs: subs}
}

type stopSubscription struct {
	stop func()
}

func (s stopSubscription) Unsubscribe() {
	s.stop()
}

// Subscribe loads current matches from Postgres, delivers them as added
// events, then streams broker events for the scope.
func (c *PostgresChannel) Subscribe(ctx context.Context, scope Scope, onEvent func(Event), onError func(error)) (Subscription, error) {
	initial, err := c.loadScope(ctx, scope)
	if err != nil {
		return nil, classifyPgErr(err)
	}

	stop, err := c.subs.Consume(ctx, routingKeyFor(scope), func(body []byte) {
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			log.Printf("remote: bad event payload: %v", err)
			onError(fmt.Errorf("decode event: %w", err))
			return
		}
		observability.IncPushEvent(string(ev.Collection), eventKindLabel(ev.Kind))
		onEvent(ev)
	})
	if err != nil {
		return nil, classifyPgErr(err)
	}

	for _, ev := range initial {
		observability.IncPushEvent(string(ev.Collection), eventKindLabel(ev.Kind))
		onEvent(ev)
	}
	return stopSubscription{stop: stop}, nil
}

// WriteOnce merges fields into the document row and publishes the full
// merged document to every routing key it belongs to.
func (c *PostgresChannel) WriteOnce(ctx context.Context, collection Collection, id string, fields map[string]any) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	existed := true
	var oldDoc json.RawMessage
	if err := c.db.GetContext(ctx, &oldDoc,
		fmt.Sprintf(`SELECT doc FROM %s WHERE id=$1`, table), id); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return classifyPgErr(err)
		}
		existed = false
	}

	var doc json.RawMessage
	query := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb)
        ON CONFLICT (id) DO UPDATE SET doc = %s.doc || EXCLUDED.doc
        RETURNING doc`, table, table)
	if err := c.db.QueryRowxContext(ctx, query, id, string(patch)).Scan(&doc); err != nil {
		return classifyPgErr(err)
	}

	kind := EventModified
	if !existed {
		kind = EventAdded
	}
	c.publish(ctx, Event{Kind: kind, Collection: collection, ID: id, Doc: doc})
	if existed {
		c.publishScopeExits(ctx, collection, id, oldDoc, doc)
	}
	return nil
}

// publishScopeExits sends a removed event on every routing key the old
// document matched that the merged one no longer does, so a participant
// dropped from a thread hears it leave their scope.
func (c *PostgresChannel) publishScopeExits(ctx context.Context, collection Collection, id string, oldDoc, newDoc json.RawMessage) {
	current := make(map[string]struct{})
	for _, key := range routingKeysForDoc(Event{Collection: collection, ID: id, Doc: newDoc}) {
		current[key] = struct{}{}
	}

	removed := Event{Kind: EventRemoved, Collection: collection, ID: id}
	for _, key := range routingKeysForDoc(Event{Collection: collection, ID: id, Doc: oldDoc}) {
		if _, ok := current[key]; ok {
			continue
		}
		if err := c.pub.Publish(ctx, key, removed); err != nil {
			log.Printf("remote: publish %s failed: %v", key, err)
		}
	}
}

func (c *PostgresChannel) publish(ctx context.Context, ev Event) {
	for _, key := range routingKeysForDoc(ev) {
		if err := c.pub.Publish(ctx, key, ev); err != nil {
			log.Printf("remote: publish %s failed: %v", key, err)
		}
	}
}

func (c *PostgresChannel) loadScope(ctx context.Context, scope Scope) ([]Event, error) {
	var query string
	var arg string
	switch scope.Collection {
	case CollectionThreads:
		query = `SELECT id, doc FROM thread_docs
            WHERE doc -> 'participants' @> to_jsonb($1::text)
            ORDER BY id`
		arg = scope.Participant
	case CollectionMessages:
		query = `SELECT id, doc FROM message_docs
            WHERE doc ->> 'thread_id' = $1
            ORDER BY id`
		arg = scope.ThreadID
	default:
		return nil, fmt.Errorf("unknown collection %q", scope.Collection)
	}

	rows, err := c.db.QueryxContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var id string
		var doc json.RawMessage
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		events = append(events, Event{Kind: EventAdded, Collection: scope.Collection, ID: id, Doc: doc})
	}
	return events, rows.Err()
}

func tableFor(collection Collection) (string, error) {
	switch collection {
	case CollectionThreads:
		return "thread_docs", nil
	case CollectionMessages:
		return "message_docs", nil
	default:
		return "", fmt.Errorf("unknown collection %q", collection)
	}
}

func routingKeyFor(scope Scope) string {
	if scope.Collection == CollectionMessages {
		return "sync.messages." + scope.ThreadID
	}
	return "sync.threads." + scope.Participant
}

// routingKeysForDoc expands a document event to every binding that should
// see it: one key per participant for threads, one per thread for messages.
func routingKeysForDoc(ev Event) []string {
	if ev.Collection == CollectionMessages {
		var doc struct {
			ThreadID string `json:"thread_id"`
		}
		if err := json.Unmarshal(ev.Doc, &doc); err != nil || doc.ThreadID == "" {
			return nil
		}
		return []string{"sync.messages." + doc.ThreadID}
	}

	var doc struct {
		Participants []string `json:"participants"`
	}
	if err := json.Unmarshal(ev.Doc, &doc); err != nil {
		return nil
	}
	keys := make([]string, 0, len(doc.Participants))
	for _, p := range doc.Participants {
		keys = append(keys, "sync.threads."+p)
	}
	return keys
}

func eventKindLabel(kind EventKind) string {
	switch kind {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

func classifyPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUndefinedTable:
			return fmt.Errorf("%w: %v", ErrIndexNotReady, err)
		case pqInsufficientPrivilege:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("connection closed: %w", err)
	}
	return err
}
