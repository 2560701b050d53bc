package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const importedDisabledReason = "disabled in imported snapshot"

// SnapshotStore reads whole registry tables and bulk loads snapshot rows.
type SnapshotStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewSnapshotStore(db *bun.DB) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &SnapshotStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SnapshotStore) ListAdministrators(ctx context.Context) ([]core.Administrator, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	var records []adminRecord
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.first_seen ASC").
		OrderExpr("?TableAlias.user_id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Administrator, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *SnapshotStore) ListServers(ctx context.Context) ([]core.Server, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	var records []guildRecord
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Server, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *SnapshotStore) ListBindings(ctx context.Context) ([]core.Binding, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	var records []bindingRecord
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.channel_id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Binding, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

// ImportSnapshot loads administrators, servers and bindings in that order in
// one transaction. Merge skips rows whose key already exists; Replace clears
// every registry table first. Only inserted rows are counted.
func (s *SnapshotStore) ImportSnapshot(
	ctx context.Context,
	tables core.SnapshotTables,
	mode core.ImportMode,
) (core.ImportCounts, error) {
	if s == nil || s.db == nil {
		return core.ImportCounts{}, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	if mode == "" {
		mode = core.ImportModeMerge
	}
	if mode != core.ImportModeMerge && mode != core.ImportModeReplace {
		return core.ImportCounts{}, fmt.Errorf("sqlstore: invalid import mode %q", mode)
	}
	now := s.now()

	var counts core.ImportCounts
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if mode == core.ImportModeReplace {
			if err := s.clearTx(ctx, tx); err != nil {
				return err
			}
		}

		for _, admin := range tables.Administrators {
			if strings.TrimSpace(admin.UserID) == "" {
				continue
			}
			inserted, err := insertIgnoringConflicts(ctx, tx, newAdminRecordFromDomain(admin, now))
			if err != nil {
				return fmt.Errorf("sqlstore: import administrator %s: %w", admin.UserID, err)
			}
			counts.Administrators += inserted
		}

		for _, server := range tables.Servers {
			if strings.TrimSpace(server.ServerID) == "" {
				continue
			}
			inserted, err := insertIgnoringConflicts(ctx, tx, newGuildRecordFromDomain(server, now))
			if err != nil {
				return fmt.Errorf("sqlstore: import server %s: %w", server.ServerID, err)
			}
			counts.Servers += inserted
		}

		for _, binding := range tables.Bindings {
			record := newBindingRecordFromDomain(binding, now)
			if record.ChannelID == "" || record.WebhookURL == "" || record.GuildID == "" {
				continue
			}
			if record.ID == "" {
				record.ID = uuid.NewString()
			}
			if !record.IsActive && record.DisabledReason == nil {
				reason := importedDisabledReason
				record.DisabledReason = &reason
			}
			inserted, err := insertIgnoringConflicts(ctx, tx, record)
			if err != nil {
				return fmt.Errorf("sqlstore: import binding %s: %w", binding.ChannelID, err)
			}
			counts.Bindings += inserted
		}
		return nil
	})
	if err != nil {
		return core.ImportCounts{}, err
	}
	return counts, nil
}

func (s *SnapshotStore) clearTx(ctx context.Context, tx bun.Tx) error {
	if s.db.Dialect().Name() == dialect.PG {
		_, err := tx.NewRaw("TRUNCATE TABLE channel_webhooks, guilds, server_admins RESTART IDENTITY CASCADE").Exec(ctx)
		return err
	}
	for _, model := range []any{
		(*bindingRecord)(nil),
		(*guildRecord)(nil),
		(*adminRecord)(nil),
	} {
		if _, err := tx.NewDelete().Model(model).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func insertIgnoringConflicts(ctx context.Context, tx bun.Tx, model any) (int, error) {
	res, err := tx.NewInsert().
		Model(model).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}
