// Package types holds wire types shared between the bridge, the synthetic
// adapter, and the record store.
package types

// Scene discriminates contact shapes.
type Scene string

const (
	SceneFriend Scene = "friend"
	SceneGroup  Scene = "group"
)

// Contact identifies the peer of a message.
type Contact struct {
	Scene Scene  `json:"scene"`
	Peer  string `json:"peer"`
	Name  string `json:"name,omitempty"`
}

// Sender identifies who sent an inbound message.
type Sender struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname,omitempty"`
	// Role is only meaningful for group messages (member|admin|owner).
	Role string `json:"role,omitempty"`
}

// Element is one segment of a message body.
type Element struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextElement builds a plain text segment.
func TextElement(text string) Element {
	return Element{Type: "text", Text: text}
}

// RenderText flattens elements into a single display string.
func RenderText(elements []Element) string {
	var out string
	for _, el := range elements {
		if el.Type == "text" {
			out += el.Text
		}
	}
	return out
}

// Direction of a record relative to the bot.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Record is one captured message exchange entry. Inbound records are built by
// the bridge when injecting; outbound records are built by the synthetic
// adapter on every send.
type Record struct {
	Direction Direction `json:"direction"`
	// Kind discriminates special sends ("forward"); empty for normal messages.
	Kind string `json:"kind,omitempty"`
	// TraceID is empty for sends with no ambient trace (orphans).
	TraceID    string    `json:"traceId,omitempty"`
	Time       int64     `json:"time"`
	MessageID  string    `json:"messageId"`
	MessageSeq int64     `json:"messageSeq,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Nickname   string    `json:"nickname,omitempty"`
	Role       string    `json:"role,omitempty"`
	Contact    *Contact  `json:"contact,omitempty"`
	Elements   []Element `json:"elements,omitempty"`
	// Message is the rendered text body.
	Message string `json:"message,omitempty"`
}

// Ack mimics what a real chat adapter returns from a send.
type Ack struct {
	MessageID string `json:"messageId"`
	Time      int64  `json:"time"`
	// ForwardID is set for forward sends.
	ForwardID string `json:"forwardId,omitempty"`
}
