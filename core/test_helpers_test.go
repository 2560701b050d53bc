package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRegistryStore struct {
	mu       sync.Mutex
	policy   HealthPolicy
	next     int
	bindings map[string]Binding
	servers  map[string]Server
	admins   map[string]Administrator
	failWith error
}

func newMemoryRegistryStore() *memoryRegistryStore {
	return &memoryRegistryStore{
		policy:   DefaultHealthPolicy(),
		bindings: map[string]Binding{},
		servers:  map[string]Server{},
		admins:   map[string]Administrator{},
	}
}

func (s *memoryRegistryStore) Bind(_ context.Context, in BindInput) (BindResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return BindResult{}, s.failWith
	}
	now := time.Now().UTC()
	result := BindResult{}
	var adminID *string
	if in.Admin != nil && !in.Admin.IsZero() {
		admin := s.touchLocked(*in.Admin, now)
		result.Administrator = &admin
		adminID = stringPointer(admin.UserID)
	}

	server, ok := s.servers[in.ServerID]
	if !ok {
		server = Server{ServerID: in.ServerID, CreatedAt: now}
	}
	if in.ServerName != "" {
		server.Name = in.ServerName
	}
	if adminID != nil {
		server.AddedBy = adminID
	}
	server.UpdatedAt = now
	s.servers[in.ServerID] = server
	result.Server = server

	binding, ok := s.bindings[in.ChannelID]
	if !ok {
		s.next++
		binding = Binding{ID: fmt.Sprintf("binding_%d", s.next), ChannelID: in.ChannelID, CreatedAt: now}
	}
	binding.EndpointURL = in.EndpointURL
	binding.ServerID = in.ServerID
	binding.IsActive = true
	binding.FailureCount = 0
	binding.LastFailureAt = nil
	binding.DisabledReason = nil
	binding.RegisteredBy = adminID
	binding.UpdatedAt = now
	s.bindings[in.ChannelID] = binding
	result.Binding = CloneBinding(binding)
	return result, nil
}

func (s *memoryRegistryStore) Unbind(_ context.Context, channelID string) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", ErrBindingNotFound, channelID)
	}
	delete(s.bindings, channelID)
	return binding, nil
}

func (s *memoryRegistryStore) LookupActive(_ context.Context, channelID string) (Binding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Binding{}, false, s.failWith
	}
	binding, ok := s.bindings[channelID]
	if !ok || !binding.IsActive {
		return Binding{}, false, nil
	}
	return CloneBinding(binding), true, nil
}

func (s *memoryRegistryStore) LookupAny(_ context.Context, channelID string) (Binding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	return CloneBinding(binding), ok, nil
}

func (s *memoryRegistryStore) ListForServer(_ context.Context, serverID string) ([]Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Binding{}
	for _, binding := range s.bindings {
		if binding.ServerID == serverID {
			out = append(out, CloneBinding(binding))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryRegistryStore) RecordSuccess(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	if !ok {
		return nil
	}
	s.bindings[channelID] = s.policy.OnSuccess(HealthStateOf(binding)).Apply(binding, time.Now().UTC())
	return nil
}

func (s *memoryRegistryStore) RecordFailure(_ context.Context, channelID string, reason string, counts bool) (FailureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	if !ok {
		return FailureResult{}, nil
	}
	now := time.Now().UTC()
	state, tripped := s.policy.OnFailure(HealthStateOf(binding), Classification{
		CountsTowardLimit: counts,
		ErrorText:         reason,
	}, now)
	s.bindings[channelID] = state.Apply(binding, now)
	return FailureResult{FailureCount: state.FailureCount, Tripped: tripped}, nil
}

func (s *memoryRegistryStore) ToggleAutomatedOrigin(_ context.Context, channelID string) (ToggleResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	if !ok {
		return ToggleResult{}, false, nil
	}
	binding.AcceptAutomatedOrigin = !binding.AcceptAutomatedOrigin
	s.bindings[channelID] = binding
	return ToggleResult{ChannelID: channelID, AcceptAutomatedOrigin: binding.AcceptAutomatedOrigin}, true, nil
}

func (s *memoryRegistryStore) TouchAdministrator(_ context.Context, admin AdminIdentity) (Administrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked(admin, time.Now().UTC()), nil
}

func (s *memoryRegistryStore) touchLocked(identity AdminIdentity, now time.Time) Administrator {
	admin, ok := s.admins[identity.UserID]
	if !ok {
		admin = Administrator{UserID: identity.UserID, FirstSeen: now}
	}
	admin.Username = identity.Username
	admin.DisplayName = stringPointer(identity.DisplayName)
	admin.LastSeen = now
	admin.InteractionCount++
	s.admins[identity.UserID] = admin
	return admin
}

func (s *memoryRegistryStore) Stats(context.Context) (RegistryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return RegistryStats{}, s.failWith
	}
	return RegistryStats{BindingCount: len(s.bindings), ServerCount: len(s.servers)}, nil
}

func (s *memoryRegistryStore) binding(channelID string) Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneBinding(s.bindings[channelID])
}

// scriptedPoster answers posts from a queue of outcomes and records every
// attempt.
type scriptedPoster struct {
	mu       sync.Mutex
	outcomes []DeliveryOutcome
	fallback DeliveryOutcome
	calls    []postedRequest
	delay    time.Duration
}

type postedRequest struct {
	url     string
	payload map[string]any
	timeout time.Duration
}

func newScriptedPoster(fallback DeliveryOutcome, outcomes ...DeliveryOutcome) *scriptedPoster {
	return &scriptedPoster{fallback: fallback, outcomes: outcomes}
}

func (p *scriptedPoster) Post(_ context.Context, endpointURL string, payload map[string]any, timeout time.Duration) DeliveryOutcome {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, postedRequest{url: endpointURL, payload: payload, timeout: timeout})
	if len(p.outcomes) == 0 {
		return p.fallback
	}
	next := p.outcomes[0]
	p.outcomes = p.outcomes[1:]
	return next
}

func (p *scriptedPoster) attempts() []postedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]postedRequest(nil), p.calls...)
}

func okOutcome() DeliveryOutcome {
	return DeliveryOutcome{StatusCode: 200}
}

func messageEvent(channelID string, content string) Event {
	return Event{
		Kind:       EventKindMessage,
		ChannelID:  channelID,
		Channel:    ChannelRef{ID: channelID, Name: "general", Type: "text"},
		Server:     &ServerRef{ID: "S1", Name: "Guild"},
		Author:     Author{ID: "U1", Username: "alice", Discriminator: "0001"},
		OccurredAt: time.Now().UTC(),
		Payload:    MessagePayload{MessageID: "M1", Content: content},
	}
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

func newTestService(store *memoryRegistryStore, poster WebhookPoster, opts ...Option) (*Service, error) {
	all := []Option{WithRegistryStore(store), WithWebhookPoster(poster)}
	all = append(all, opts...)
	return NewService(Config{}, all...)
}

func containsFold(value string, fragment string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(fragment))
}
