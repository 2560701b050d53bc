package core

import (
	"fmt"
	"strings"
)

// EventFormatter turns a typed event into the event-specific payload fields.
// The pipeline treats the returned map as opaque.
type EventFormatter interface {
	Format(event Event) (map[string]any, error)
}

type EventFormatterFunc func(event Event) (map[string]any, error)

func (f EventFormatterFunc) Format(event Event) (map[string]any, error) {
	return f(event)
}

// DefaultEventFormatter renders the content/author/channel/guild payload
// shape consumed by existing endpoint workflows.
type DefaultEventFormatter struct{}

func (DefaultEventFormatter) Format(event Event) (map[string]any, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	wireType := event.WireType()
	fields := map[string]any{
		"author": map[string]any{
			"id":            event.Author.ID,
			"username":      defaultString(event.Author.Username, "Unknown"),
			"discriminator": defaultString(event.Author.Discriminator, "0000"),
		},
		"channel": map[string]any{
			"id":   defaultString(event.Channel.ID, event.ChannelID),
			"name": defaultString(event.Channel.Name, "Unknown"),
			"type": defaultString(event.Channel.Type, "text"),
		},
		"guild": nil,
	}
	if event.Server != nil && strings.TrimSpace(event.Server.ID) != "" {
		fields["guild"] = map[string]any{
			"id":   event.Server.ID,
			"name": event.Server.Name,
		}
	}

	var text string
	switch payload := event.Payload.(type) {
	case MessagePayload:
		text = payload.Content
		fields["message_id"] = payload.MessageID
		if payload.Thread != nil {
			fields["thread"] = threadFields(*payload.Thread)
		}
	case ReactionPayload:
		text = payload.Emoji
		fields["message_id"] = payload.MessageID
		fields["reaction"] = map[string]any{
			"emoji":      payload.Emoji,
			"message_id": payload.MessageID,
		}
		if payload.Thread != nil {
			fields["thread"] = threadFields(*payload.Thread)
		}
	case ThreadPayload:
		text = payload.Thread.Name
		fields["thread"] = threadFields(payload.Thread)
		if len(payload.Changes) > 0 {
			fields["changes"] = copyAnyMap(payload.Changes)
		}
	case ThreadMemberPayload:
		verb := "joined"
		if event.Kind == EventKindThreadMemberLeave {
			verb = "left"
		}
		text = fmt.Sprintf("%s %s the thread", defaultString(event.Author.Username, "Unknown"), verb)
		fields["thread"] = threadFields(payload.Thread)
		if payload.MemberID != "" {
			fields["member_id"] = payload.MemberID
		}
	}
	fields["content"] = map[string]any{
		"text": text,
		"type": wireType,
	}
	return fields, nil
}

func threadFields(thread ThreadRef) map[string]any {
	out := map[string]any{
		"id":   thread.ID,
		"name": thread.Name,
	}
	if thread.ParentID != "" {
		out["parent_id"] = thread.ParentID
	}
	return out
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
