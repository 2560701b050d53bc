package snapshot

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	AdministratorsFile = "server_admins.csv"
	ServersFile        = "guilds.csv"
	BindingsFile       = "channel_webhooks.csv"
	MetadataFile       = "metadata.json"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	AdministratorColumns = []string{"user_id", "username", "display_name", "first_seen", "last_seen", "interaction_count"}
	ServerColumns        = []string{"id", "name", "added_by_admin_id", "created_at", "updated_at"}
	BindingColumns       = []string{
		"id", "channel_id", "webhook_url", "guild_id", "failure_count", "last_failure_at",
		"is_active", "disabled_reason", "registered_by_admin_id", "send_bot_messages",
		"created_at", "updated_at",
	}
)

// Files lists the snapshot files in export order.
func Files() []string {
	return []string{AdministratorsFile, ServersFile, BindingsFile, MetadataFile}
}

// Bundle is one snapshot: a name plus file contents keyed by file name.
type Bundle struct {
	Name  string
	Files map[string][]byte
}

func (b Bundle) file(name string) ([]byte, bool) {
	if b.Files == nil {
		return nil, false
	}
	data, ok := b.Files[name]
	return data, ok
}

// Metadata decodes metadata.json. A bundle without one reports false.
func (b Bundle) Metadata() (core.SnapshotMetadata, bool, error) {
	data, ok := b.file(MetadataFile)
	if !ok || len(bytes.TrimSpace(data)) == 0 {
		return core.SnapshotMetadata{}, false, nil
	}
	var meta core.SnapshotMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return core.SnapshotMetadata{}, false, fmt.Errorf("snapshot: decode metadata: %w", err)
	}
	return meta, true, nil
}

// Encode renders tables and metadata into a bundle.
func Encode(name string, tables core.SnapshotTables, meta core.SnapshotMetadata) (Bundle, error) {
	metadata, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Bundle{}, fmt.Errorf("snapshot: encode metadata: %w", err)
	}
	return Bundle{
		Name: name,
		Files: map[string][]byte{
			AdministratorsFile: EncodeAdministrators(tables.Administrators),
			ServersFile:        EncodeServers(tables.Servers),
			BindingsFile:       EncodeBindings(tables.Bindings),
			MetadataFile:       metadata,
		},
	}, nil
}

func EncodeAdministrators(rows []core.Administrator) []byte {
	w := newTableWriter(AdministratorColumns)
	for _, row := range rows {
		w.row(
			quoted(row.UserID),
			quoted(row.Username),
			quotedPtr(row.DisplayName),
			timestamp(row.FirstSeen),
			timestamp(row.LastSeen),
			strconv.Itoa(row.InteractionCount),
		)
	}
	return w.bytes()
}

func EncodeServers(rows []core.Server) []byte {
	w := newTableWriter(ServerColumns)
	for _, row := range rows {
		w.row(
			quoted(row.ServerID),
			quoted(row.Name),
			quotedPtr(row.AddedBy),
			timestamp(row.CreatedAt),
			timestamp(row.UpdatedAt),
		)
	}
	return w.bytes()
}

func EncodeBindings(rows []core.Binding) []byte {
	w := newTableWriter(BindingColumns)
	for _, row := range rows {
		w.row(
			quoted(row.ID),
			quoted(row.ChannelID),
			quoted(row.EndpointURL),
			quoted(row.ServerID),
			strconv.Itoa(row.FailureCount),
			timestampPtr(row.LastFailureAt),
			strconv.FormatBool(row.IsActive),
			quotedPtr(row.DisabledReason),
			quotedPtr(row.RegisteredBy),
			strconv.FormatBool(row.AcceptAutomatedOrigin),
			timestamp(row.CreatedAt),
			timestamp(row.UpdatedAt),
		)
	}
	return w.bytes()
}

type tableWriter struct {
	buf bytes.Buffer
}

func newTableWriter(columns []string) *tableWriter {
	w := &tableWriter{}
	w.buf.WriteString(strings.Join(columns, ","))
	w.buf.WriteByte('\n')
	return w
}

func (w *tableWriter) row(fields ...string) {
	w.buf.WriteString(strings.Join(fields, ","))
	w.buf.WriteByte('\n')
}

func (w *tableWriter) bytes() []byte {
	return w.buf.Bytes()
}

// quoted always wraps strings in double quotes and doubles embedded quotes.
func quoted(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quotedPtr(value *string) string {
	if value == nil {
		return ""
	}
	return quoted(*value)
}

func timestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timestampLayout)
}

func timestampPtr(value *time.Time) string {
	if value == nil {
		return ""
	}
	return timestamp(*value)
}

// Decoded is the result of parsing a bundle. Issues holds one
// RELAY_SNAPSHOT_PARSE error per row that was dropped or patched.
type Decoded struct {
	Tables  core.SnapshotTables
	Skipped core.ImportCounts
	Issues  []error
}

// Decode parses every table present in the bundle. Missing files load as
// empty tables. Bad timestamps become now, bad counters take their defaults
// and rows without their required keys are skipped.
func Decode(bundle Bundle, now time.Time) Decoded {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	out := Decoded{}
	p := &rowParser{now: now.UTC(), decoded: &out}

	if data, ok := bundle.file(AdministratorsFile); ok {
		p.table = "server_admins"
		p.each(data, func(row record) {
			userID := row.text("user_id")
			if userID == "" {
				out.Skipped.Administrators++
				p.issue(row.line, "missing user_id")
				return
			}
			out.Tables.Administrators = append(out.Tables.Administrators, core.Administrator{
				UserID:           userID,
				Username:         row.text("username"),
				DisplayName:      row.optional("display_name"),
				FirstSeen:        p.parseTime(row, "first_seen"),
				LastSeen:         p.parseTime(row, "last_seen"),
				InteractionCount: p.parseInt(row, "interaction_count", 1, 1),
			})
		})
	}

	if data, ok := bundle.file(ServersFile); ok {
		p.table = "guilds"
		p.each(data, func(row record) {
			serverID := row.text("id")
			if serverID == "" {
				out.Skipped.Servers++
				p.issue(row.line, "missing id")
				return
			}
			out.Tables.Servers = append(out.Tables.Servers, core.Server{
				ServerID:  serverID,
				Name:      row.text("name"),
				AddedBy:   row.optional("added_by_admin_id"),
				CreatedAt: p.parseTime(row, "created_at"),
				UpdatedAt: p.parseTime(row, "updated_at"),
			})
		})
	}

	if data, ok := bundle.file(BindingsFile); ok {
		p.table = "channel_webhooks"
		p.each(data, func(row record) {
			var missing []string
			for _, key := range []string{"channel_id", "webhook_url", "guild_id"} {
				if row.text(key) == "" {
					missing = append(missing, key)
				}
			}
			if len(missing) > 0 {
				out.Skipped.Bindings++
				p.issue(row.line, "missing "+strings.Join(missing, ", "))
				return
			}
			out.Tables.Bindings = append(out.Tables.Bindings, core.Binding{
				ID:                    row.text("id"),
				ChannelID:             row.text("channel_id"),
				EndpointURL:           row.text("webhook_url"),
				ServerID:              row.text("guild_id"),
				FailureCount:          p.parseInt(row, "failure_count", 0, 0),
				LastFailureAt:         p.parseOptionalTime(row, "last_failure_at"),
				IsActive:              !strings.EqualFold(row.text("is_active"), "false"),
				DisabledReason:        row.optional("disabled_reason"),
				RegisteredBy:          row.optional("registered_by_admin_id"),
				AcceptAutomatedOrigin: strings.EqualFold(row.text("send_bot_messages"), "true"),
				CreatedAt:             p.parseTime(row, "created_at"),
				UpdatedAt:             p.parseTime(row, "updated_at"),
			})
		})
	}
	return out
}

type record struct {
	line   int
	fields map[string]string
}

func (r record) text(column string) string {
	return strings.TrimSpace(r.fields[column])
}

// optional maps an empty field to NULL. The literal text "null" is a value:
// the encoder writes NULL as an empty field.
func (r record) optional(column string) *string {
	value := r.text(column)
	if value == "" {
		return nil
	}
	return &value
}

type rowParser struct {
	table   string
	now     time.Time
	decoded *Decoded
}

func (p *rowParser) each(data []byte, fn func(record)) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			p.issue(1, fmt.Sprintf("unreadable header: %v", err))
		}
		return
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	for {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			p.issue(line, err.Error())
			continue
		}
		line, _ := reader.FieldPos(0)
		fields := make(map[string]string, len(header))
		for idx, column := range header {
			if idx < len(values) {
				fields[column] = values[idx]
			}
		}
		fn(record{line: line, fields: fields})
	}
}

func (p *rowParser) issue(line int, reason string) {
	p.decoded.Issues = append(p.decoded.Issues, core.SnapshotParseError(p.table, line, reason))
}

func (p *rowParser) parseTime(row record, column string) time.Time {
	raw := row.text(column)
	if raw == "" || raw == "null" {
		return p.now
	}
	parsed, ok := parseTimestamp(raw)
	if !ok {
		p.issue(row.line, fmt.Sprintf("invalid %s %q", column, raw))
		return p.now
	}
	return parsed
}

func (p *rowParser) parseOptionalTime(row record, column string) *time.Time {
	raw := row.text(column)
	if raw == "" || raw == "null" {
		return nil
	}
	parsed, ok := parseTimestamp(raw)
	if !ok {
		p.issue(row.line, fmt.Sprintf("invalid %s %q", column, raw))
		return nil
	}
	return &parsed
}

func (p *rowParser) parseInt(row record, column string, fallback int, minimum int) int {
	raw := row.text(column)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minimum {
		p.issue(row.line, fmt.Sprintf("invalid %s %q", column, raw))
		return fallback
	}
	return value
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	// Date.toString() style values carry a trailing zone name in parentheses.
	if idx := strings.Index(raw, " ("); idx > 0 {
		raw = raw[:idx]
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
