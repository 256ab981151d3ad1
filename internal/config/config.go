package config

import (
	"fmt"
	"time"

	coreconfig "github.com/wisbric/core/pkg/config"
)

// IP allocation modes.
const (
	IPModeFloating = "floating"
	IPModeFixed    = "fixed"
	IPModeAWS      = "aws"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageCeph  = "ceph"
	StorageAWS   = "aws"
)

// Config holds all KuberDock-specific configuration, embedding shared infra fields.
type Config struct {
	coreconfig.BaseConfig

	// Kubernetes API
	KubeAPIURL     string `env:"KUBE_API_URL" envDefault:"http://127.0.0.1:8080"`
	KubeConfigPath string `env:"KUBE_CONFIG_PATH"`

	// Allocation modes
	IPMode         string `env:"IP_MODE" envDefault:"floating"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"local"`

	// Ceph backend
	CephPool     string   `env:"CEPH_POOL" envDefault:"rbd"`
	CephUser     string   `env:"CEPH_USER" envDefault:"admin"`
	CephMonitors []string `env:"CEPH_MONITORS" envSeparator:","`
	CephKeyring  string   `env:"CEPH_KEYRING" envDefault:"/etc/ceph/ceph.client.admin.keyring"`
	CephFSType   string   `env:"CEPH_FSTYPE" envDefault:"ext4"`

	// AWS EBS backend
	AWSRegion           string `env:"AWS_REGION"`
	AWSAvailabilityZone string `env:"AWS_AVAILABILITY_ZONE"`
	AWSEBSFSType        string `env:"AWS_EBS_FSTYPE" envDefault:"ext4"`

	// Local storage backend
	NodeLocalStoragePrefix string `env:"NODE_LOCAL_STORAGE_PREFIX" envDefault:"/var/lib/kuberdock/storage"`

	// Identity
	InternalUser string `env:"KUBERDOCK_INTERNAL_USER" envDefault:"kuberdock-internal"`

	// Registry
	DefaultRegistry string `env:"DEFAULT_REGISTRY" envDefault:"https://registry-1.docker.io"`

	// Intervals
	SSEKeepaliveInterval time.Duration `env:"SSE_KEEPALIVE_INTERVAL" envDefault:"15s"`
	PDGCInterval         time.Duration `env:"PD_GC_INTERVAL" envDefault:"1m"`
	ImageCacheTTL        time.Duration `env:"IMAGE_CACHE_TTL" envDefault:"4h"`

	// Sessions
	SessionSecret string        `env:"KUBERDOCK_SESSION_SECRET"`
	SessionMaxAge time.Duration `env:"KUBERDOCK_SESSION_MAX_AGE" envDefault:"24h"`

	// Seed
	AdminPassword string `env:"KUBERDOCK_ADMIN_PASSWORD"`

	// Notifications
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`

	// Maintenance mode: mutating pod/PD/IP operations are rejected while set.
	Maintenance bool `env:"MAINTENANCE" envDefault:"false"`
}

// Load reads configuration from environment variables and validates the
// enumerated fields.
func Load() (*Config, error) {
	cfg, err := coreconfig.Load[Config]()
	if err != nil {
		return nil, err
	}

	switch cfg.IPMode {
	case IPModeFloating, IPModeFixed, IPModeAWS:
	default:
		return nil, fmt.Errorf("invalid IP_MODE %q: must be one of floating, fixed, aws", cfg.IPMode)
	}

	switch cfg.StorageBackend {
	case StorageLocal, StorageCeph, StorageAWS:
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q: must be one of local, ceph, aws", cfg.StorageBackend)
	}

	if cfg.StorageBackend == StorageAWS && cfg.AWSRegion == "" {
		return nil, fmt.Errorf("STORAGE_BACKEND=aws requires AWS_REGION")
	}

	return cfg, nil
}
