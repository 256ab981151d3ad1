// Package pd owns persistent disk identity and lifecycle across storage
// backends. A disk has two names: the user-visible (name, owner) pair and the
// globally unique drive_name handed to the backend. The drive_name embeds the
// owner so two users can both have a disk called "data". Deletion is
// asynchronous: a disk marked TODELETE is renamed out of the way and a
// companion row in state DELETED immediately reclaims the user-visible slot,
// so the name stays usable while the old drive is garbage collected.
package pd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Disk states.
const (
	StatePending  = "PENDING"
	StateCreated  = "CREATED"
	StateToDelete = "TODELETE"
	StateDeleted  = "DELETED"
)

// Drive name separators. The id form is current; the username form survives
// from deployments that predate numeric user ids.
const (
	SeparatorUserID   = "__SEPID__"
	SeparatorUsername = "__SEP__"
)

// Disk is one persistent disk row.
type Disk struct {
	ID         int64      `json:"id"`
	DriveName  string     `json:"drive_name"`
	Name       string     `json:"name"`
	OwnerID    int64      `json:"owner"`
	Size       int        `json:"size"`
	State      string     `json:"state"`
	PodID      *uuid.UUID `json:"pod_id,omitempty"`
	NodeID     *string    `json:"node,omitempty"`
	BackendRef string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// InUse reports whether the disk is bound to a pod.
func (d *Disk) InUse() bool {
	return d.PodID != nil
}

// ComposeDriveName builds the physical drive name for a (name, owner) pair.
func ComposeDriveName(name string, ownerID int64) string {
	return name + SeparatorUserID + strconv.FormatInt(ownerID, 10)
}

// ParsedDriveName is the outcome of splitting a physical drive name.
type ParsedDriveName struct {
	Name     string
	OwnerID  int64  // set for the id form
	Username string // set for the legacy username form
}

// ParseDriveName splits a physical drive name back into its parts. The id
// form is tried first, then the legacy username form. Unparseable names
// return false: the caller must never guess an owner.
func ParseDriveName(driveName string) (ParsedDriveName, bool) {
	if name, rest, found := strings.Cut(driveName, SeparatorUserID); found {
		id, err := strconv.ParseInt(stripSuffix(rest), 10, 64)
		if err == nil && name != "" {
			return ParsedDriveName{Name: name, OwnerID: id}, true
		}
		return ParsedDriveName{}, false
	}
	if name, username, found := strings.Cut(driveName, SeparatorUsername); found {
		if name != "" && username != "" {
			return ParsedDriveName{Name: name, Username: stripSuffix(username)}, true
		}
	}
	return ParsedDriveName{}, false
}

// stripSuffix removes the `_N` replacement-generation suffix, if present.
func stripSuffix(s string) string {
	idx := strings.LastIndex(s, "_")
	if idx < 0 {
		return s
	}
	if _, err := strconv.Atoi(s[idx+1:]); err != nil {
		return s
	}
	return s[:idx]
}

// NextDriveName returns the replacement drive name following prev: the base
// physical name with an incremented `_N` suffix, starting at `_1`. The base
// must be passed explicitly because the owner-id tail of a composed name is
// itself numeric.
func NextDriveName(base, prev string) string {
	if rest, ok := strings.CutPrefix(prev, base+"_"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return fmt.Sprintf("%s_%d", base, n+1)
		}
	}
	return base + "_1"
}
