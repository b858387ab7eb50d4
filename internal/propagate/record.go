// Package propagate replicates an authoritative tracked-record mutation to
// every peer store named by the routing table. Peers converge eventually;
// per-peer failures are isolated and retried on the next natural trigger.
package propagate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TrackedRecord is the mutable issue projection carried between stores.
type TrackedRecord struct {
	ID          string
	Status      string
	ClosedAt    *time.Time
	CloseReason string
	UpdatedAt   time.Time
}

// prefixPattern is the strict token grammar for store prefixes: leading
// letter, then letters/digits/hyphen/underscore. Anything else risks
// constructing an unintended target name and aborts instead.
var prefixPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidPrefix reports whether s satisfies the prefix grammar.
func ValidPrefix(s string) bool {
	return prefixPattern.MatchString(s)
}

// triggerPattern matches a close/update verb followed by the record
// identifier in a status-mutating issue command.
var triggerPattern = regexp.MustCompile(`(?:^|\s)(?:close|update)\s+([A-Za-z0-9][A-Za-z0-9._-]*)`)

// ExtractRecordID pulls the record identifier out of a triggering command's
// textual form. Returns false when the command is not a status mutation.
func ExtractRecordID(command string) (string, bool) {
	m := triggerPattern.FindStringSubmatch(command)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SuccessExit reports whether a hook-reported exit status is unambiguously
// success: the literal number zero. Missing, non-numeric, or non-zero all
// fail the check.
func SuccessExit(status string) bool {
	status = strings.TrimSpace(status)
	if status == "" {
		return false
	}
	n, err := strconv.Atoi(status)
	return err == nil && n == 0
}
