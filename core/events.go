package core

import (
	"fmt"
	"strings"
	"time"
)

type EventKind string

const (
	EventKindMessage           EventKind = "message"
	EventKindReactionAdd       EventKind = "reaction_add"
	EventKindReactionRemove    EventKind = "reaction_remove"
	EventKindThreadCreate      EventKind = "thread_create"
	EventKindThreadDelete      EventKind = "thread_delete"
	EventKindThreadUpdate      EventKind = "thread_update"
	EventKindThreadMemberJoin  EventKind = "thread_member_join"
	EventKindThreadMemberLeave EventKind = "thread_member_leave"
)

// Wire event types that differ from the event kind.
const (
	WireTypeMessageCreate        = "message_create"
	WireTypeThreadMessage        = "thread_message"
	WireTypeThreadReactionAdd    = "thread_reaction_add"
	WireTypeThreadReactionRemove = "thread_reaction_remove"
	WireTypeValidationTestEvent  = "test_webhook"
)

var eventKinds = []EventKind{
	EventKindMessage,
	EventKindReactionAdd,
	EventKindReactionRemove,
	EventKindThreadCreate,
	EventKindThreadDelete,
	EventKindThreadUpdate,
	EventKindThreadMemberJoin,
	EventKindThreadMemberLeave,
}

func EventKinds() []EventKind {
	return append([]EventKind(nil), eventKinds...)
}

func ParseEventKind(value string) (EventKind, error) {
	normalized := EventKind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range eventKinds {
		if kind == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("core: unsupported event kind %q", value)
}

type Author struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
}

type ChannelRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

type ServerRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ThreadRef struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// Payload is the kind-specific part of an Event. The set of implementations
// is closed to this package.
type Payload interface {
	EventKinds() []EventKind
	isPayload()
}

type MessagePayload struct {
	MessageID string
	Content   string
	Thread    *ThreadRef
}

func (MessagePayload) EventKinds() []EventKind { return []EventKind{EventKindMessage} }

func (MessagePayload) isPayload() {}

type ReactionPayload struct {
	MessageID string
	Emoji     string
	Thread    *ThreadRef
}

func (ReactionPayload) EventKinds() []EventKind {
	return []EventKind{EventKindReactionAdd, EventKindReactionRemove}
}
func (ReactionPayload) isPayload() {}

type ThreadPayload struct {
	Thread  ThreadRef
	Changes map[string]any
}

func (ThreadPayload) EventKinds() []EventKind {
	return []EventKind{EventKindThreadCreate, EventKindThreadDelete, EventKindThreadUpdate}
}
func (ThreadPayload) isPayload() {}

type ThreadMemberPayload struct {
	Thread   ThreadRef
	MemberID string
}

func (ThreadMemberPayload) EventKinds() []EventKind {
	return []EventKind{EventKindThreadMemberJoin, EventKindThreadMemberLeave}
}
func (ThreadMemberPayload) isPayload() {}

// Event is one typed gateway event. ChannelID is the channel whose binding
// receives the event; for thread events it is the thread's parent channel.
type Event struct {
	Kind                EventKind
	ChannelID           string
	Channel             ChannelRef
	Server              *ServerRef
	Author              Author
	FromAutomatedOrigin bool
	OccurredAt          time.Time
	Payload             Payload
}

func (e Event) Validate() error {
	if _, err := ParseEventKind(string(e.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(e.ChannelID) == "" {
		return fmt.Errorf("core: event channel id is required")
	}
	if e.Payload == nil {
		return fmt.Errorf("core: event payload is required for %s", e.Kind)
	}
	for _, kind := range e.Payload.EventKinds() {
		if kind == e.Kind {
			return nil
		}
	}
	return fmt.Errorf("core: payload %T does not match event kind %s", e.Payload, e.Kind)
}

// WireType is the event_type value sent to endpoints.
func (e Event) WireType() string {
	switch payload := e.Payload.(type) {
	case MessagePayload:
		if payload.Thread != nil {
			return WireTypeThreadMessage
		}
		return WireTypeMessageCreate
	case ReactionPayload:
		if payload.Thread == nil {
			return string(e.Kind)
		}
		if e.Kind == EventKindReactionRemove {
			return WireTypeThreadReactionRemove
		}
		return WireTypeThreadReactionAdd
	}
	return string(e.Kind)
}

// EventEnvelope is the JSON boundary shape for events handed over by a
// gateway process.
type EventEnvelope struct {
	Kind                string         `json:"kind"`
	ChannelID           string         `json:"channel_id"`
	Channel             *ChannelRef    `json:"channel,omitempty"`
	Server              *ServerRef     `json:"server,omitempty"`
	Author              Author         `json:"author"`
	FromAutomatedOrigin bool           `json:"from_automated_origin"`
	OccurredAt          *time.Time     `json:"occurred_at,omitempty"`
	MessageID           string         `json:"message_id,omitempty"`
	Content             string         `json:"content,omitempty"`
	Emoji               string         `json:"emoji,omitempty"`
	Thread              *ThreadRef     `json:"thread,omitempty"`
	MemberID            string         `json:"member_id,omitempty"`
	Changes             map[string]any `json:"changes,omitempty"`
}

func (env EventEnvelope) ToEvent() (Event, error) {
	kind, err := ParseEventKind(env.Kind)
	if err != nil {
		return Event{}, err
	}
	channelID := strings.TrimSpace(env.ChannelID)
	event := Event{
		Kind:                kind,
		ChannelID:           channelID,
		Server:              env.Server,
		Author:              env.Author,
		FromAutomatedOrigin: env.FromAutomatedOrigin,
		OccurredAt:          time.Now().UTC(),
	}
	if env.Channel != nil {
		event.Channel = *env.Channel
	} else {
		event.Channel = ChannelRef{ID: channelID}
	}
	if env.OccurredAt != nil {
		event.OccurredAt = env.OccurredAt.UTC()
	}

	switch kind {
	case EventKindMessage:
		event.Payload = MessagePayload{MessageID: env.MessageID, Content: env.Content, Thread: env.Thread}
	case EventKindReactionAdd, EventKindReactionRemove:
		event.Payload = ReactionPayload{MessageID: env.MessageID, Emoji: env.Emoji, Thread: env.Thread}
	case EventKindThreadCreate, EventKindThreadDelete, EventKindThreadUpdate:
		if env.Thread == nil {
			return Event{}, fmt.Errorf("core: thread is required for %s", kind)
		}
		event.Payload = ThreadPayload{Thread: *env.Thread, Changes: copyAnyMap(env.Changes)}
	case EventKindThreadMemberJoin, EventKindThreadMemberLeave:
		if env.Thread == nil {
			return Event{}, fmt.Errorf("core: thread is required for %s", kind)
		}
		event.Payload = ThreadMemberPayload{Thread: *env.Thread, MemberID: env.MemberID}
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
