package models

import "time"

// SystemSenderID marks system-generated messages.
const SystemSenderID = "system"

// BodyKind tags the message body variant.
type BodyKind string

const (
	BodyText          BodyKind = "text"
	BodyImage         BodyKind = "image"
	BodyEventCard     BodyKind = "event_card"
	BodyPostCard      BodyKind = "post_card"
	BodyStoryReply    BodyKind = "story_reply"
	BodyStoryReaction BodyKind = "story_reaction"
)

// MessageBody is the tagged union over message payloads. Text carries the
// caption for attachment kinds and the reply/reaction text for story kinds;
// URL points at uploaded bytes; RefID references the shared event, post or
// story.
type MessageBody struct {
	Kind  BodyKind `json:"kind"`
	Text  string   `json:"text,omitempty"`
	URL   string   `json:"url,omitempty"`
	RefID string   `json:"ref_id,omitempty"`
}

// TextBody builds a plain text body.
func TextBody(text string) MessageBody {
	return MessageBody{Kind: BodyText, Text: text}
}

// Preview returns the text used in thread list snapshots.
func (b MessageBody) Preview() string {
	switch b.Kind {
	case BodyText, BodyStoryReply, BodyStoryReaction:
		return b.Text
	case BodyImage:
		return "[photo]"
	case BodyEventCard:
		return "[event]"
	case BodyPostCard:
		return "[post]"
	default:
		return b.Text
	}
}

// Message is an append-only record inside a thread. It is created once at
// send time and never mutated or deleted through this engine.
type Message struct {
	ID              string      `json:"id"`
	ThreadID        string      `json:"thread_id"`
	SenderID        string      `json:"sender_id"`
	Body            MessageBody `json:"body"`
	CreatedAt       time.Time   `json:"created_at"`
	ClientTimestamp *time.Time  `json:"client_timestamp,omitempty"`
	ReadBy          UserSet     `json:"read_by,omitempty"`

	// Failed marks a locally buffered message whose remote write did not
	// complete. It never leaves this process.
	Failed bool `json:"failed,omitempty"`
}

// LessMessages is the stream ordering rule: clientTimestamp wins when both
// sides carry one, otherwise the server-assigned createdAt decides. The id
// breaks exact ties so ordering stays total.
func LessMessages(a, b Message) bool {
	if a.ClientTimestamp != nil && b.ClientTimestamp != nil {
		if !a.ClientTimestamp.Equal(*b.ClientTimestamp) {
			return a.ClientTimestamp.Before(*b.ClientTimestamp)
		}
		return a.ID < b.ID
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
