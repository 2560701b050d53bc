package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func bindingHandlers() repository.ModelHandlers[*bindingRecord] {
	return repository.ModelHandlers[*bindingRecord]{
		NewRecord: func() *bindingRecord {
			return &bindingRecord{}
		},
		GetID: func(record *bindingRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *bindingRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "channel_id"
		},
		GetIdentifierValue: func(record *bindingRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ChannelID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
