package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/db"
)

// Service exposes catalog lookups for quota checks and pricing listings.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a billing Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// Kube resolves a kube type, translating absence into a validation error:
// a pod spec naming an unknown shape is a caller mistake, not a 404.
func (s *Service) Kube(ctx context.Context, id int) (Kube, error) {
	k, err := s.store.GetKube(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Kube{}, apierror.Validation("kube type %d does not exist", id)
		}
		return Kube{}, err
	}
	return k, nil
}

// Package resolves a package by id.
func (s *Service) Package(ctx context.Context, id int) (Package, error) {
	p, err := s.store.GetPackage(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Package{}, apierror.NotFound("package %d does not exist", id)
		}
		return Package{}, err
	}
	return p, nil
}

// CheckKubeAllowed verifies the user's package includes the kube type. The
// internal shape is always allowed: infrastructure pods are not billed.
func (s *Service) CheckKubeAllowed(ctx context.Context, packageID, kubeID int) error {
	if kubeID == InternalKubeID {
		return nil
	}
	ok, err := s.store.PackageAllowsKube(ctx, packageID, kubeID)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.Validation("kube type %d is not allowed by your package", kubeID)
	}
	return nil
}

// CheckKubeQuota verifies a requested total kube count against the package
// limit. A limit of zero means unlimited.
func (s *Service) CheckKubeQuota(ctx context.Context, packageID, requested int) error {
	p, err := s.Package(ctx, packageID)
	if err != nil {
		return err
	}
	if p.KubeLimit > 0 && requested > p.KubeLimit {
		return apierror.Validation(
			"requested %d kubes exceeds the package limit of %d", requested, p.KubeLimit)
	}
	return nil
}

// ListKubes returns the public kube catalog. Admin callers may include the
// internal shape.
func (s *Service) ListKubes(ctx context.Context, includeInternal bool) ([]Kube, error) {
	items, err := s.store.ListKubes(ctx, includeInternal)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Kube{}
	}
	return items, nil
}

// PackageListing is a package with its kube prices.
type PackageListing struct {
	Package
	Kubes []PackageKube `json:"kubes"`
}

// ListPackages returns all packages with their per-kube prices.
func (s *Service) ListPackages(ctx context.Context) ([]PackageListing, error) {
	pkgs, err := s.store.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PackageListing, 0, len(pkgs))
	for _, p := range pkgs {
		kubes, err := s.store.ListPackageKubes(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if kubes == nil {
			kubes = []PackageKube{}
		}
		out = append(out, PackageListing{Package: p, Kubes: kubes})
	}
	return out, nil
}
