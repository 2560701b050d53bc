package snapshot

import (
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix    = "backup-"
	isoMillisLayout = "2006-01-02T15:04:05.000Z"
)

// BackupName returns backup-<ISO timestamp> with ':' and '.' replaced by '-',
// for example backup-2025-01-11T03-00-00-964Z.
func BackupName(at time.Time) string {
	iso := at.UTC().Format(isoMillisLayout)
	return backupPrefix + strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// ParseBackupName reports the timestamp encoded in a backup name.
func ParseBackupName(name string) (time.Time, bool) {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, backupPrefix) {
		return time.Time{}, false
	}
	stamp := strings.TrimPrefix(name, backupPrefix)
	if len(stamp) != len(isoMillisLayout) {
		return time.Time{}, false
	}
	// Only the time part had its separators replaced.
	iso := stamp[:13] + ":" + stamp[14:16] + ":" + stamp[17:19] + "." + stamp[20:]
	parsed, err := time.Parse(isoMillisLayout, iso)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// SortNewestFirst orders backup names by their parsed timestamp, newest
// first. Names that do not parse sort last, by name.
func SortNewestFirst(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		left, leftOK := ParseBackupName(names[i])
		right, rightOK := ParseBackupName(names[j])
		switch {
		case leftOK && rightOK:
			if left.Equal(right) {
				return names[i] > names[j]
			}
			return left.After(right)
		case leftOK != rightOK:
			return leftOK
		default:
			return names[i] > names[j]
		}
	})
}

func isBackupName(name string) bool {
	return strings.HasPrefix(strings.TrimSpace(name), backupPrefix)
}
