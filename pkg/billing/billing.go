// Package billing holds the read side of the commercial catalog: kube types
// (compute shapes) and packages (which shapes a user may buy, at what price).
// The billing provider itself is an external collaborator; the control plane
// only consults the catalog for quota and resource-limit math.
package billing

import "time"

// InternalKubeID is the reserved kube type for infrastructure pods. It is
// excluded from public listings and exempt from the node-selector pinning.
const InternalKubeID = -1

// Kube is one compute shape: a unit of cpu+memory+disk billed as one item.
type Kube struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	CPU         float64 `json:"cpu"`
	CPUUnits    string  `json:"cpu_units"`
	Memory      int     `json:"memory"`
	MemoryUnits string  `json:"memory_units"`
	DiskSpace   int     `json:"disk_space"`
	DiskUnits   string  `json:"disk_space_units"`
	IncludedTraffic int `json:"included_traffic"`
	IsDefault   bool    `json:"is_default"`
	CreatedAt   time.Time `json:"-"`
}

// Package is a commercial bundle of kube types.
type Package struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Deleted    bool    `json:"-"`
	KubeLimit  int     `json:"kube_limit"`
	Currency   string  `json:"currency"`
	PriceIP    float64 `json:"price_ip"`
	PricePDPerGB float64 `json:"price_pstorage"`
	IsDefault  bool    `json:"is_default"`
	CreatedAt  time.Time `json:"-"`
}

// PackageKube maps a kube type into a package at a price.
type PackageKube struct {
	PackageID int     `json:"package_id"`
	KubeID    int     `json:"kube_id"`
	KubePrice float64 `json:"kube_price"`
}
