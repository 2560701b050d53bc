package core

import (
	"fmt"
	"strings"
	"time"
)

// MaxConsecutiveFailures is the number of consecutive limit-counting delivery
// failures after which a binding is disabled.
const MaxConsecutiveFailures = 5

type BindingState string

const (
	BindingStateActive   BindingState = "active"
	BindingStateDisabled BindingState = "disabled"
)

type Binding struct {
	ID                    string
	ChannelID             string
	EndpointURL           string
	ServerID              string
	AcceptAutomatedOrigin bool
	IsActive              bool
	FailureCount          int
	LastFailureAt         *time.Time
	DisabledReason        *string
	RegisteredBy          *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (b Binding) State() BindingState {
	if b.IsActive {
		return BindingStateActive
	}
	return BindingStateDisabled
}

type Server struct {
	ServerID  string
	Name      string
	AddedBy   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Administrator struct {
	UserID           string
	Username         string
	DisplayName      *string
	FirstSeen        time.Time
	LastSeen         time.Time
	InteractionCount int
}

// DisplayLabel prefers the display name and falls back to the username.
func (a Administrator) DisplayLabel() string {
	if a.DisplayName != nil && strings.TrimSpace(*a.DisplayName) != "" {
		return strings.TrimSpace(*a.DisplayName)
	}
	return strings.TrimSpace(a.Username)
}

// FirstSeenNow reports whether the last tracked action created the record.
func (a Administrator) FirstSeenNow() bool {
	return a.InteractionCount == 1
}

// AdminIdentity identifies the administrator performing a tracked action.
type AdminIdentity struct {
	UserID      string
	Username    string
	DisplayName string
}

func (a AdminIdentity) IsZero() bool {
	return strings.TrimSpace(a.UserID) == ""
}

type BindInput struct {
	ChannelID   string
	EndpointURL string
	ServerID    string
	ServerName  string
	Admin       *AdminIdentity
}

func (in BindInput) Validate() error {
	if strings.TrimSpace(in.ChannelID) == "" {
		return fmt.Errorf("core: channel id is required")
	}
	if strings.TrimSpace(in.EndpointURL) == "" {
		return fmt.Errorf("core: endpoint url is required")
	}
	if strings.TrimSpace(in.ServerID) == "" {
		return fmt.Errorf("core: server id is required")
	}
	return nil
}

type BindResult struct {
	Binding       Binding
	Server        Server
	Administrator *Administrator
}

type FailureResult struct {
	FailureCount int
	Tripped      bool
}

type RegistryStats struct {
	BindingCount int
	ServerCount  int
}

type ToggleResult struct {
	ChannelID             string
	AcceptAutomatedOrigin bool
}

func stringPointer(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := value.UTC()
	return &copied
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// CloneBinding returns a deep copy of the binding's pointer fields.
func CloneBinding(b Binding) Binding {
	out := b
	out.LastFailureAt = cloneTimePointer(b.LastFailureAt)
	out.DisabledReason = cloneStringPointer(b.DisabledReason)
	out.RegisteredBy = cloneStringPointer(b.RegisteredBy)
	return out
}
