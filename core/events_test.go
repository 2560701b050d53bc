package core

import (
	"encoding/json"
	"testing"
)

func TestEventEnvelope_ToEventBuildsTypedPayloads(t *testing.T) {
	raw := `{
		"kind": "reaction_add",
		"channel_id": "C1",
		"server": {"id": "S1", "name": "Guild"},
		"author": {"id": "U1", "username": "alice"},
		"message_id": "M1",
		"emoji": "👍",
		"thread": {"id": "T1", "name": "topic", "parent_id": "C1"}
	}`
	var envelope EventEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	event, err := envelope.ToEvent()
	if err != nil {
		t.Fatalf("to event: %v", err)
	}
	payload, ok := event.Payload.(ReactionPayload)
	if !ok {
		t.Fatalf("expected reaction payload, got %T", event.Payload)
	}
	if payload.Emoji != "👍" || payload.Thread == nil || payload.Thread.ID != "T1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if event.WireType() != WireTypeThreadReactionAdd {
		t.Fatalf("expected thread reaction wire type, got %q", event.WireType())
	}
	if event.Channel.ID != "C1" {
		t.Fatalf("expected channel ref defaulted from channel id")
	}
}

func TestEventEnvelope_RejectsInvalidInput(t *testing.T) {
	cases := []EventEnvelope{
		{Kind: "presence_update", ChannelID: "C1"},
		{Kind: "message", ChannelID: " "},
		{Kind: "thread_create", ChannelID: "C1"},
		{Kind: "thread_member_join", ChannelID: "C1"},
	}
	for _, envelope := range cases {
		if _, err := envelope.ToEvent(); err == nil {
			t.Fatalf("expected error for %#v", envelope)
		}
	}
}

func TestEvent_ValidateRejectsMismatchedPayload(t *testing.T) {
	event := Event{Kind: EventKindThreadCreate, ChannelID: "C1", Payload: MessagePayload{Content: "x"}}
	if err := event.Validate(); err == nil {
		t.Fatalf("expected payload mismatch error")
	}
}

func TestEvent_WireTypes(t *testing.T) {
	thread := &ThreadRef{ID: "T1", Name: "topic"}
	cases := []struct {
		event Event
		want  string
	}{
		{Event{Kind: EventKindMessage, Payload: MessagePayload{}}, WireTypeMessageCreate},
		{Event{Kind: EventKindMessage, Payload: MessagePayload{Thread: thread}}, WireTypeThreadMessage},
		{Event{Kind: EventKindReactionAdd, Payload: ReactionPayload{}}, "reaction_add"},
		{Event{Kind: EventKindReactionRemove, Payload: ReactionPayload{Thread: thread}}, WireTypeThreadReactionRemove},
		{Event{Kind: EventKindThreadUpdate, Payload: ThreadPayload{Thread: *thread}}, "thread_update"},
		{Event{Kind: EventKindThreadMemberLeave, Payload: ThreadMemberPayload{Thread: *thread}}, "thread_member_leave"},
	}
	for _, tc := range cases {
		if got := tc.event.WireType(); got != tc.want {
			t.Fatalf("kind %s: expected %q, got %q", tc.event.Kind, tc.want, got)
		}
	}
}

func TestDefaultEventFormatter_Fields(t *testing.T) {
	event := messageEvent("C1", "hello")
	event.Server = nil
	fields, err := DefaultEventFormatter{}.Format(event)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if fields["guild"] != nil {
		t.Fatalf("expected null guild for direct channel, got %#v", fields["guild"])
	}
	author := fields["author"].(map[string]any)
	if author["username"] != "alice" || author["discriminator"] != "0001" {
		t.Fatalf("unexpected author %#v", author)
	}
	content := fields["content"].(map[string]any)
	if content["type"] != WireTypeMessageCreate {
		t.Fatalf("unexpected content %#v", content)
	}

	member := Event{
		Kind:      EventKindThreadMemberLeave,
		ChannelID: "C1",
		Author:    Author{ID: "U2", Username: "bob"},
		Payload:   ThreadMemberPayload{Thread: ThreadRef{ID: "T1", Name: "topic"}, MemberID: "U2"},
	}
	fields, err = DefaultEventFormatter{}.Format(member)
	if err != nil {
		t.Fatalf("format member: %v", err)
	}
	text := fields["content"].(map[string]any)["text"].(string)
	if !containsFold(text, "bob left") {
		t.Fatalf("unexpected member text %q", text)
	}
	if fields["member_id"] != "U2" {
		t.Fatalf("expected member id field")
	}
}
