package core

import (
	"fmt"
	"strings"
	"time"
)

// SnapshotFormatVersion is written to every snapshot descriptor.
const SnapshotFormatVersion = "1.0"

type ImportMode string

const (
	// ImportModeMerge inserts rows that are not present yet and never
	// overwrites existing ones.
	ImportModeMerge ImportMode = "merge"
	// ImportModeReplace wipes all registry tables before loading.
	ImportModeReplace ImportMode = "replace"
)

func ParseImportMode(value string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ImportModeMerge:
		return ImportModeMerge, nil
	case ImportModeReplace:
		return ImportModeReplace, nil
	default:
		return "", fmt.Errorf("core: invalid import mode %q", value)
	}
}

// SnapshotTables holds one full copy of the registry.
type SnapshotTables struct {
	Administrators []Administrator
	Servers        []Server
	Bindings       []Binding
}

type ImportCounts struct {
	Administrators int
	Servers        int
	Bindings       int
}

func (c ImportCounts) Total() int {
	return c.Administrators + c.Servers + c.Bindings
}

type SnapshotMetadata struct {
	ExportTimestamp time.Time `json:"export_timestamp"`
	BindingCount    int       `json:"binding_count"`
	ServerCount     int       `json:"server_count"`
	AdminCount      int       `json:"admin_count"`
	FormatVersion   string    `json:"format_version"`
}

type SnapshotExportResult struct {
	Name      string
	Location  string
	Metadata  SnapshotMetadata
	Published bool
}

// RestoreRequest selects the snapshot to import. An empty Name means the
// newest available snapshot; an empty Source tries every configured source in
// order.
type RestoreRequest struct {
	Source string
	Name   string
	Mode   ImportMode
}

type ImportReport struct {
	Source   string
	Mode     ImportMode
	Inserted ImportCounts
	// Skipped counts rows dropped because they could not be parsed or were
	// missing required keys.
	Skipped ImportCounts
}
