// Package settings stores the mutable system settings that gate pod and
// persistent disk limits. Settings are plain (name, value) string pairs; the
// typed accessors parse on read so an operator typo degrades to the default
// instead of breaking the request path.
package settings

import "time"

// Names of the settings the control plane reads.
const (
	MaxKubesPerContainer  = "max_kubes_per_container"
	PersistentDiskMaxSize = "persistent_disk_max_size"
	CPUMultiplier         = "cpu_multiplier"
	MemoryMultiplier      = "memory_multiplier"
)

// Defaults applied by the seeder and used as fallbacks on parse failure.
var Defaults = map[string]string{
	MaxKubesPerContainer:  "10",
	PersistentDiskMaxSize: "10",
	CPUMultiplier:         "8",
	MemoryMultiplier:      "64",
}

// Setting is one system setting row.
type Setting struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Label     string    `json:"label,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
