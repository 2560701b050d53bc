package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/uptrace/bun"
)

type bindingRecord struct {
	bun.BaseModel `bun:"table:channel_webhooks,alias:cw"`

	ID                  string     `bun:"id,pk"`
	ChannelID           string     `bun:"channel_id,notnull"`
	WebhookURL          string     `bun:"webhook_url,notnull"`
	GuildID             string     `bun:"guild_id,notnull"`
	FailureCount        int        `bun:"failure_count,notnull"`
	LastFailureAt       *time.Time `bun:"last_failure_at,nullzero"`
	IsActive            bool       `bun:"is_active,notnull"`
	DisabledReason      *string    `bun:"disabled_reason"`
	RegisteredByAdminID *string    `bun:"registered_by_admin_id"`
	SendBotMessages     bool       `bun:"send_bot_messages,notnull"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type guildRecord struct {
	bun.BaseModel `bun:"table:guilds,alias:g"`

	ID             string    `bun:"id,pk"`
	Name           string    `bun:"name,notnull"`
	AddedByAdminID *string   `bun:"added_by_admin_id"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type adminRecord struct {
	bun.BaseModel `bun:"table:server_admins,alias:sa"`

	UserID           string    `bun:"user_id,pk"`
	Username         string    `bun:"username,notnull"`
	DisplayName      *string   `bun:"display_name"`
	FirstSeen        time.Time `bun:"first_seen,nullzero,notnull,default:current_timestamp"`
	LastSeen         time.Time `bun:"last_seen,nullzero,notnull,default:current_timestamp"`
	InteractionCount int       `bun:"interaction_count,notnull"`
}

func (r *bindingRecord) toDomain() core.Binding {
	if r == nil {
		return core.Binding{}
	}
	return core.Binding{
		ID:                    r.ID,
		ChannelID:             r.ChannelID,
		EndpointURL:           r.WebhookURL,
		ServerID:              r.GuildID,
		AcceptAutomatedOrigin: r.SendBotMessages,
		IsActive:              r.IsActive,
		FailureCount:          r.FailureCount,
		LastFailureAt:         copyTimePointer(r.LastFailureAt),
		DisabledReason:        copyStringPointer(r.DisabledReason),
		RegisteredBy:          copyStringPointer(r.RegisteredByAdminID),
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

func newBindingRecordFromDomain(binding core.Binding, now time.Time) *bindingRecord {
	record := &bindingRecord{
		ID:                  strings.TrimSpace(binding.ID),
		ChannelID:           strings.TrimSpace(binding.ChannelID),
		WebhookURL:          strings.TrimSpace(binding.EndpointURL),
		GuildID:             strings.TrimSpace(binding.ServerID),
		FailureCount:        binding.FailureCount,
		LastFailureAt:       copyTimePointer(binding.LastFailureAt),
		IsActive:            binding.IsActive,
		DisabledReason:      copyStringPointer(binding.DisabledReason),
		RegisteredByAdminID: copyStringPointer(binding.RegisteredBy),
		SendBotMessages:     binding.AcceptAutomatedOrigin,
		CreatedAt:           binding.CreatedAt.UTC(),
		UpdatedAt:           binding.UpdatedAt.UTC(),
	}
	if record.FailureCount < 0 {
		record.FailureCount = 0
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	return record
}

func (r *guildRecord) toDomain() core.Server {
	if r == nil {
		return core.Server{}
	}
	return core.Server{
		ServerID:  r.ID,
		Name:      r.Name,
		AddedBy:   copyStringPointer(r.AddedByAdminID),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func newGuildRecordFromDomain(server core.Server, now time.Time) *guildRecord {
	record := &guildRecord{
		ID:             strings.TrimSpace(server.ServerID),
		Name:           strings.TrimSpace(server.Name),
		AddedByAdminID: copyStringPointer(server.AddedBy),
		CreatedAt:      server.CreatedAt.UTC(),
		UpdatedAt:      server.UpdatedAt.UTC(),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	return record
}

func (r *adminRecord) toDomain() core.Administrator {
	if r == nil {
		return core.Administrator{}
	}
	return core.Administrator{
		UserID:           r.UserID,
		Username:         r.Username,
		DisplayName:      copyStringPointer(r.DisplayName),
		FirstSeen:        r.FirstSeen.UTC(),
		LastSeen:         r.LastSeen.UTC(),
		InteractionCount: r.InteractionCount,
	}
}

func newAdminRecordFromDomain(admin core.Administrator, now time.Time) *adminRecord {
	record := &adminRecord{
		UserID:           strings.TrimSpace(admin.UserID),
		Username:         strings.TrimSpace(admin.Username),
		DisplayName:      copyStringPointer(admin.DisplayName),
		FirstSeen:        admin.FirstSeen.UTC(),
		LastSeen:         admin.LastSeen.UTC(),
		InteractionCount: admin.InteractionCount,
	}
	if record.FirstSeen.IsZero() {
		record.FirstSeen = now
	}
	if record.LastSeen.IsZero() {
		record.LastSeen = record.FirstSeen
	}
	if record.InteractionCount < 1 {
		record.InteractionCount = 1
	}
	return record
}

func copyTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := value.UTC()
	return &copied
}

func copyStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
