package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegistryStore persists bindings, servers and administrators. Counter and
// health mutations are single-statement updates so concurrent deliveries to
// the same channel never lose an increment.
type RegistryStore struct {
	db     *bun.DB
	repo   repository.Repository[*bindingRecord]
	policy core.HealthPolicy
	now    func() time.Time
}

func NewRegistryStore(db *bun.DB, policy core.HealthPolicy) (*RegistryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*bindingRecord](db, bindingHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid binding repository wiring: %w", err)
		}
	}
	return &RegistryStore{
		db:     db,
		repo:   repo,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *RegistryStore) Bind(ctx context.Context, in core.BindInput) (core.BindResult, error) {
	if s == nil || s.db == nil {
		return core.BindResult{}, fmt.Errorf("sqlstore: registry store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.BindResult{}, err
	}
	channelID := strings.TrimSpace(in.ChannelID)
	now := s.now()

	var result core.BindResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var adminID *string
		if in.Admin != nil && !in.Admin.IsZero() {
			admin, err := touchAdministratorTx(ctx, tx, *in.Admin, now)
			if err != nil {
				return err
			}
			result.Administrator = &admin
			adminID = optionalString(admin.UserID)
		}

		server, err := upsertGuildTx(ctx, tx, in.ServerID, in.ServerName, adminID, now)
		if err != nil {
			return err
		}
		result.Server = server

		record := &bindingRecord{
			ID:                  uuid.NewString(),
			ChannelID:           channelID,
			WebhookURL:          strings.TrimSpace(in.EndpointURL),
			GuildID:             strings.TrimSpace(in.ServerID),
			FailureCount:        0,
			IsActive:            true,
			RegisteredByAdminID: adminID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if _, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (channel_id) DO UPDATE").
			Set("webhook_url = EXCLUDED.webhook_url").
			Set("guild_id = EXCLUDED.guild_id").
			Set("is_active = EXCLUDED.is_active").
			Set("failure_count = 0").
			Set("last_failure_at = NULL").
			Set("disabled_reason = NULL").
			Set("registered_by_admin_id = EXCLUDED.registered_by_admin_id").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx); err != nil {
			return err
		}

		stored, err := findBindingTx(ctx, tx, channelID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("sqlstore: binding for channel %s missing after upsert", channelID)
		}
		result.Binding = stored.toDomain()
		return nil
	})
	if err != nil {
		return core.BindResult{}, err
	}
	return result, nil
}

func (s *RegistryStore) Unbind(ctx context.Context, channelID string) (core.Binding, error) {
	if s == nil || s.db == nil {
		return core.Binding{}, fmt.Errorf("sqlstore: registry store is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	var removed core.Binding
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findBindingTx(ctx, tx, channelID)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("%w: %s", core.ErrBindingNotFound, channelID)
		}
		if _, err := tx.NewDelete().
			Model((*bindingRecord)(nil)).
			Where("channel_id = ?", channelID).
			Exec(ctx); err != nil {
			return err
		}
		removed = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Binding{}, err
	}
	return removed, nil
}

func (s *RegistryStore) LookupActive(ctx context.Context, channelID string) (core.Binding, bool, error) {
	if s == nil || s.db == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: registry store is not configured")
	}
	record := &bindingRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.channel_id = ?", strings.TrimSpace(channelID)).
		Where("?TableAlias.is_active = ?", true).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Binding{}, false, nil
		}
		return core.Binding{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *RegistryStore) LookupAny(ctx context.Context, channelID string) (core.Binding, bool, error) {
	if s == nil || s.db == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: registry store is not configured")
	}
	record := &bindingRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.channel_id = ?", strings.TrimSpace(channelID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Binding{}, false, nil
		}
		return core.Binding{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *RegistryStore) ListForServer(ctx context.Context, serverID string) ([]core.Binding, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: registry store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("guild_id", "=", strings.TrimSpace(serverID)),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Binding, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RegistryStore) RecordSuccess(ctx context.Context, channelID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: registry store is not configured")
	}
	reset := s.policy.OnSuccess(core.HealthState{})
	_, err := s.db.NewUpdate().
		Model((*bindingRecord)(nil)).
		Set("failure_count = ?", reset.FailureCount).
		Set("last_failure_at = ?", reset.LastFailureAt).
		Set("updated_at = ?", s.now()).
		Where("channel_id = ?", strings.TrimSpace(channelID)).
		Where("(failure_count <> 0 OR last_failure_at IS NOT NULL)").
		Exec(ctx)
	return err
}

// RecordFailure refreshes last_failure_at and, for counting failures,
// increments failure_count in one statement. The row that reaches the
// threshold while still active is disabled and reported as tripped.
func (s *RegistryStore) RecordFailure(
	ctx context.Context,
	channelID string,
	reason string,
	countsTowardLimit bool,
) (core.FailureResult, error) {
	if s == nil || s.db == nil {
		return core.FailureResult{}, fmt.Errorf("sqlstore: registry store is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	now := s.now()

	var result core.FailureResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if !countsTowardLimit {
			if _, err := tx.NewUpdate().
				Model((*bindingRecord)(nil)).
				Set("last_failure_at = ?", now).
				Set("updated_at = ?", now).
				Where("channel_id = ?", channelID).
				Exec(ctx); err != nil {
				return err
			}
			record, err := findBindingTx(ctx, tx, channelID)
			if err != nil || record == nil {
				return err
			}
			result.FailureCount = record.FailureCount
			return nil
		}

		var (
			count  int
			active bool
		)
		err := tx.NewRaw(
			"UPDATE channel_webhooks SET failure_count = failure_count + 1, last_failure_at = ?, updated_at = ? WHERE channel_id = ? RETURNING failure_count, is_active",
			now,
			now,
			channelID,
		).Scan(ctx, &count, &active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		result.FailureCount = count
		transition := s.policy.AfterFailure(count, true, active, reason)
		if !transition.Trip {
			return nil
		}

		res, err := tx.NewUpdate().
			Model((*bindingRecord)(nil)).
			Set("is_active = ?", false).
			Set("disabled_reason = ?", transition.Reason).
			Set("updated_at = ?", now).
			Where("channel_id = ?", channelID).
			Where("is_active = ?", true).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		result.Tripped = affected > 0
		return nil
	})
	if err != nil {
		return core.FailureResult{}, err
	}
	return result, nil
}

func (s *RegistryStore) ToggleAutomatedOrigin(ctx context.Context, channelID string) (core.ToggleResult, bool, error) {
	if s == nil || s.db == nil {
		return core.ToggleResult{}, false, fmt.Errorf("sqlstore: registry store is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	var (
		result core.ToggleResult
		found  bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*bindingRecord)(nil)).
			Set("send_bot_messages = NOT send_bot_messages").
			Set("updated_at = ?", s.now()).
			Where("channel_id = ?", channelID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil
		}
		record, err := findBindingTx(ctx, tx, channelID)
		if err != nil || record == nil {
			return err
		}
		found = true
		result = core.ToggleResult{ChannelID: record.ChannelID, AcceptAutomatedOrigin: record.SendBotMessages}
		return nil
	})
	if err != nil {
		return core.ToggleResult{}, false, err
	}
	return result, found, nil
}

func (s *RegistryStore) TouchAdministrator(ctx context.Context, identity core.AdminIdentity) (core.Administrator, error) {
	if s == nil || s.db == nil {
		return core.Administrator{}, fmt.Errorf("sqlstore: registry store is not configured")
	}
	if identity.IsZero() {
		return core.Administrator{}, fmt.Errorf("sqlstore: administrator user id is required")
	}
	var admin core.Administrator
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		touched, err := touchAdministratorTx(ctx, tx, identity, s.now())
		if err != nil {
			return err
		}
		admin = touched
		return nil
	})
	if err != nil {
		return core.Administrator{}, err
	}
	return admin, nil
}

func (s *RegistryStore) Stats(ctx context.Context) (core.RegistryStats, error) {
	if s == nil || s.db == nil {
		return core.RegistryStats{}, fmt.Errorf("sqlstore: registry store is not configured")
	}
	bindings, err := s.db.NewSelect().Model((*bindingRecord)(nil)).Count(ctx)
	if err != nil {
		return core.RegistryStats{}, err
	}
	servers, err := s.db.NewSelect().Model((*guildRecord)(nil)).Count(ctx)
	if err != nil {
		return core.RegistryStats{}, err
	}
	return core.RegistryStats{BindingCount: bindings, ServerCount: servers}, nil
}

func findBindingTx(ctx context.Context, tx bun.Tx, channelID string) (*bindingRecord, error) {
	record := &bindingRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.channel_id = ?", strings.TrimSpace(channelID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func findGuildTx(ctx context.Context, tx bun.Tx, serverID string) (*guildRecord, error) {
	record := &guildRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(serverID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func findAdminTx(ctx context.Context, tx bun.Tx, userID string) (*adminRecord, error) {
	record := &adminRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// upsertGuildTx creates the server row or refreshes it. An empty name or a
// missing admin never clears what is already stored.
func upsertGuildTx(
	ctx context.Context,
	tx bun.Tx,
	serverID string,
	name string,
	addedBy *string,
	now time.Time,
) (core.Server, error) {
	record, err := findGuildTx(ctx, tx, serverID)
	if err != nil {
		return core.Server{}, err
	}
	if record == nil {
		record = &guildRecord{
			ID:             strings.TrimSpace(serverID),
			Name:           strings.TrimSpace(name),
			AddedByAdminID: copyStringPointer(addedBy),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return core.Server{}, err
		}
		return record.toDomain(), nil
	}

	if trimmed := strings.TrimSpace(name); trimmed != "" {
		record.Name = trimmed
	}
	if addedBy != nil {
		record.AddedByAdminID = copyStringPointer(addedBy)
	}
	record.UpdatedAt = now
	if _, err := tx.NewUpdate().
		Model(record).
		Where("id = ?", record.ID).
		Exec(ctx); err != nil {
		return core.Server{}, err
	}
	return record.toDomain(), nil
}

// touchAdministratorTx upserts the administrator and bumps interaction_count
// atomically. An interaction_count of 1 afterwards means first sight.
func touchAdministratorTx(ctx context.Context, tx bun.Tx, identity core.AdminIdentity, now time.Time) (core.Administrator, error) {
	userID := strings.TrimSpace(identity.UserID)
	if _, err := tx.NewRaw(
		`INSERT INTO server_admins (user_id, username, display_name, first_seen, last_seen, interaction_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = COALESCE(EXCLUDED.display_name, server_admins.display_name),
			last_seen = EXCLUDED.last_seen,
			interaction_count = server_admins.interaction_count + 1`,
		userID,
		strings.TrimSpace(identity.Username),
		optionalString(identity.DisplayName),
		now,
		now,
	).Exec(ctx); err != nil {
		return core.Administrator{}, err
	}
	record, err := findAdminTx(ctx, tx, userID)
	if err != nil {
		return core.Administrator{}, err
	}
	if record == nil {
		return core.Administrator{}, fmt.Errorf("sqlstore: administrator %s missing after upsert", userID)
	}
	return record.toDomain(), nil
}
