// Package usage maintains the billing feed: interval tables recording when
// containers ran, public IPs were held, and persistent disks existed. Rows
// are written by the event reconciler and the resource managers; the billing
// collaborator reads them through the admin usage endpoint.
package usage

import (
	"time"

	"github.com/google/uuid"
)

// ContainerState is one row of the container timeline. For a fixed
// (pod, container) the intervals never overlap and at most one row is open.
type ContainerState struct {
	ID        int64      `json:"-"`
	PodID     uuid.UUID  `json:"pod_id"`
	Container string     `json:"container_name"`
	DockerID  string     `json:"docker_id"`
	Kubes     int        `json:"kubes"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Reason    *string    `json:"reason,omitempty"`
}

// Open reports whether the interval is still running.
func (c *ContainerState) Open() bool {
	return c.End == nil
}

// IPState records a public-IP tenure.
type IPState struct {
	ID    int64      `json:"-"`
	PodID uuid.UUID  `json:"pod_id"`
	IP    string     `json:"ip_address"`
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// PDState records a persistent-disk tenure.
type PDState struct {
	ID     int64      `json:"-"`
	PDID   int64      `json:"pd_id"`
	PDName string     `json:"pd_name"`
	Size   int        `json:"size"`
	Start  time.Time  `json:"start"`
	End    *time.Time `json:"end,omitempty"`
}

// Report is the per-user usage bundle the billing endpoint returns.
type Report struct {
	Containers []ContainerState `json:"container_states"`
	IPs        []IPState        `json:"ip_states"`
	PDs        []PDState        `json:"pd_states"`
}
