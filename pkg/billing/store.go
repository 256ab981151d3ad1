package billing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for the kube/package catalog.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a billing Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const kubeColumns = `id, name, cpu, cpu_units, memory, memory_units,
	disk_space, disk_space_units, included_traffic, is_default, created_at`

func scanKubeRow(row pgx.Row) (Kube, error) {
	var k Kube
	err := row.Scan(
		&k.ID, &k.Name, &k.CPU, &k.CPUUnits, &k.Memory, &k.MemoryUnits,
		&k.DiskSpace, &k.DiskUnits, &k.IncludedTraffic, &k.IsDefault, &k.CreatedAt,
	)
	return k, err
}

// GetKube returns one kube type by id.
func (s *Store) GetKube(ctx context.Context, id int) (Kube, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+kubeColumns+` FROM kubes WHERE id = $1`, id)
	return scanKubeRow(row)
}

// ListKubes returns kube types, optionally hiding the internal shape.
func (s *Store) ListKubes(ctx context.Context, includeInternal bool) ([]Kube, error) {
	query := `SELECT ` + kubeColumns + ` FROM kubes ORDER BY id`
	if !includeInternal {
		query = `SELECT ` + kubeColumns + ` FROM kubes WHERE id >= 0 ORDER BY id`
	}
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing kubes: %w", err)
	}
	defer rows.Close()

	var items []Kube
	for rows.Next() {
		var k Kube
		if err := rows.Scan(
			&k.ID, &k.Name, &k.CPU, &k.CPUUnits, &k.Memory, &k.MemoryUnits,
			&k.DiskSpace, &k.DiskUnits, &k.IncludedTraffic, &k.IsDefault, &k.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning kube row: %w", err)
		}
		items = append(items, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating kube rows: %w", err)
	}
	return items, nil
}

const packageColumns = `id, name, deleted, kube_limit, currency, price_ip,
	price_pstorage, is_default, created_at`

// GetPackage returns one package by id.
func (s *Store) GetPackage(ctx context.Context, id int) (Package, error) {
	var p Package
	err := s.dbtx.QueryRow(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE id = $1 AND NOT deleted`, id).Scan(
		&p.ID, &p.Name, &p.Deleted, &p.KubeLimit, &p.Currency, &p.PriceIP,
		&p.PricePDPerGB, &p.IsDefault, &p.CreatedAt,
	)
	return p, err
}

// ListPackages returns all live packages.
func (s *Store) ListPackages(ctx context.Context) ([]Package, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE NOT deleted ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	defer rows.Close()

	var items []Package
	for rows.Next() {
		var p Package
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Deleted, &p.KubeLimit, &p.Currency, &p.PriceIP,
			&p.PricePDPerGB, &p.IsDefault, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning package row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating package rows: %w", err)
	}
	return items, nil
}

// ListPackageKubes returns the kube prices for a package.
func (s *Store) ListPackageKubes(ctx context.Context, packageID int) ([]PackageKube, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT package_id, kube_id, kube_price FROM package_kubes
		WHERE package_id = $1 ORDER BY kube_id`, packageID)
	if err != nil {
		return nil, fmt.Errorf("listing package kubes: %w", err)
	}
	defer rows.Close()

	var items []PackageKube
	for rows.Next() {
		var pk PackageKube
		if err := rows.Scan(&pk.PackageID, &pk.KubeID, &pk.KubePrice); err != nil {
			return nil, fmt.Errorf("scanning package kube row: %w", err)
		}
		items = append(items, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating package kube rows: %w", err)
	}
	return items, nil
}

// PackageAllowsKube reports whether the package includes the kube type.
func (s *Store) PackageAllowsKube(ctx context.Context, packageID, kubeID int) (bool, error) {
	var n int
	err := s.dbtx.QueryRow(ctx,
		`SELECT count(*) FROM package_kubes WHERE package_id = $1 AND kube_id = $2`,
		packageID, kubeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking package kube: %w", err)
	}
	return n > 0, nil
}
