// Package seed provisions the baseline rows a fresh installation needs: the
// kube catalog, the default package, system settings, and the admin plus
// reserved internal users. Run is idempotent.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/kuberdock/pkg/billing"
	"github.com/wisbric/kuberdock/pkg/settings"
)

// DefaultAdminPassword is used when no explicit password is configured. It is
// meant for development installs only.
const DefaultAdminPassword = "kuberdock-admin"

// settingLabels are the operator-facing descriptions of the system settings.
var settingLabels = map[string]string{
	settings.MaxKubesPerContainer:  "Maximum number of kubes per container",
	settings.PersistentDiskMaxSize: "Persistent disk maximum size, GB",
	settings.CPUMultiplier:         "CPU limit multiplier",
	settings.MemoryMultiplier:      "Memory limit multiplier",
}

type kubeSeed struct {
	id        int
	name      string
	cpu       float64
	memory    int
	diskSpace int
	isDefault bool
}

var kubeSeeds = []kubeSeed{
	{billing.InternalKubeID, "Internal service", 0.02, 64, 1, false},
	{0, "Standard", 0.12, 64, 1, true},
	{1, "High CPU", 0.25, 64, 1, false},
	{2, "High memory", 0.25, 256, 3, false},
}

// Run seeds the catalog, settings, and the two reserved accounts.
func Run(ctx context.Context, pool *pgxpool.Pool, internalUser, adminPassword string, logger *slog.Logger) error {
	if err := seedKubes(ctx, pool); err != nil {
		return err
	}
	if err := seedPackages(ctx, pool); err != nil {
		return err
	}
	if err := seedSettings(ctx, pool); err != nil {
		return err
	}
	if err := seedAdmin(ctx, pool, adminPassword, logger); err != nil {
		return err
	}
	if err := seedInternalUser(ctx, pool, internalUser); err != nil {
		return err
	}
	logger.Info("seed completed",
		"kubes", len(kubeSeeds), "internal_user", internalUser)
	return nil
}

func seedKubes(ctx context.Context, pool *pgxpool.Pool) error {
	for _, k := range kubeSeeds {
		_, err := pool.Exec(ctx, `INSERT INTO kubes
			(id, name, cpu, cpu_units, memory, memory_units,
			 disk_space, disk_space_units, included_traffic, is_default)
			VALUES ($1, $2, $3, 'Cores', $4, 'MB', $5, 'GB', 0, $6)
			ON CONFLICT (id) DO NOTHING`,
			k.id, k.name, k.cpu, k.memory, k.diskSpace, k.isDefault)
		if err != nil {
			return fmt.Errorf("seeding kube %q: %w", k.name, err)
		}
	}
	return nil
}

func seedPackages(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `INSERT INTO packages
		(id, name, deleted, kube_limit, currency, price_ip, price_pstorage, is_default)
		VALUES (0, 'Standard package', false, 0, 'USD', 0, 0, true)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("seeding default package: %w", err)
	}
	for _, k := range kubeSeeds {
		if k.id == billing.InternalKubeID {
			continue
		}
		_, err := pool.Exec(ctx, `INSERT INTO package_kubes (package_id, kube_id, kube_price)
			VALUES (0, $1, 0)
			ON CONFLICT (package_id, kube_id) DO NOTHING`, k.id)
		if err != nil {
			return fmt.Errorf("seeding package kube %d: %w", k.id, err)
		}
	}
	return nil
}

func seedSettings(ctx context.Context, pool *pgxpool.Pool) error {
	for name, value := range settings.Defaults {
		_, err := pool.Exec(ctx, `INSERT INTO system_settings (name, value, label)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING`, name, value, settingLabels[name])
		if err != nil {
			return fmt.Errorf("seeding setting %q: %w", name, err)
		}
	}
	return nil
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, adminPassword string, logger *slog.Logger) error {
	password := adminPassword
	if password == "" {
		password = DefaultAdminPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	token := newToken()

	var query string
	if adminPassword != "" {
		// Explicit password: upsert so an existing admin gets the configured one.
		query = `INSERT INTO users (username, password_hash, role, package_id, token, active)
			VALUES ('admin', $1, 'admin', 0, $2, true)
			ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`
	} else {
		query = `INSERT INTO users (username, password_hash, role, package_id, token, active)
			VALUES ('admin', $1, 'admin', 0, $2, true)
			ON CONFLICT (username) DO NOTHING`
	}

	tag, err := pool.Exec(ctx, query, string(hash), token)
	if err != nil {
		return fmt.Errorf("seeding admin user: %w", err)
	}
	if tag.RowsAffected() > 0 {
		logger.Info("seeded admin user", "username", "admin")
	}
	return nil
}

// seedInternalUser creates the reserved account that owns infrastructure
// pods. It has no password: it never logs in interactively.
func seedInternalUser(ctx context.Context, pool *pgxpool.Pool, username string) error {
	_, err := pool.Exec(ctx, `INSERT INTO users (username, password_hash, role, package_id, token, active)
		VALUES ($1, '', 'admin', 0, $2, true)
		ON CONFLICT (username) DO NOTHING`, username, newToken())
	if err != nil {
		return fmt.Errorf("seeding internal user: %w", err)
	}
	return nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
}
