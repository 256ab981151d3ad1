package node

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	corev1 "k8s.io/api/core/v1"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/pkg/billing"
)

// clusterAPI is the Kubernetes surface the registry reads.
type clusterAPI interface {
	GetNode(ctx context.Context, name string) (*corev1.Node, error)
}

// Service manages the node registry.
type Service struct {
	store   *Store
	catalog *billing.Service
	cluster clusterAPI
	logger  *slog.Logger
}

// NewService creates a node Service.
func NewService(store *Store, catalog *billing.Service, cluster clusterAPI, logger *slog.Logger) *Service {
	return &Service{store: store, catalog: catalog, cluster: cluster, logger: logger}
}

// enrich overlays the live Kubernetes view. A node absent from the cluster
// keeps its registry state as the status.
func (s *Service) enrich(ctx context.Context, n Node) Node {
	n.Status = n.State
	live, err := s.cluster.GetNode(ctx, n.Hostname)
	if err != nil {
		if apiErr := apierror.From(err); apiErr != nil && apiErr.Kind == apierror.KindNotFound {
			return n
		}
		s.logger.Warn("reading live node state", "node", n.Hostname, "error", err)
		return n
	}
	n.Status = LiveStatus(live)
	n.Resources = LiveResources(live)
	return n
}

// List returns all registered nodes with their live status.
func (s *Service) List(ctx context.Context) ([]Node, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(items))
	for _, n := range items {
		out = append(out, s.enrich(ctx, n))
	}
	return out, nil
}

// Get returns one node with its live status.
func (s *Service) Get(ctx context.Context, id int64) (Node, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, apierror.NotFound("node %d does not exist", id)
		}
		return Node{}, err
	}
	return s.enrich(ctx, n), nil
}

// Create registers a node. The kube type pins which pods the node may run.
func (s *Service) Create(ctx context.Context, hostname, ip string, kubeType int) (Node, error) {
	if hostname == "" {
		return Node{}, apierror.Validation("hostname is required")
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return Node{}, apierror.Validation("invalid node ip %q", ip)
	}
	if _, err := s.catalog.Kube(ctx, kubeType); err != nil {
		return Node{}, err
	}

	n, err := s.store.Insert(ctx, hostname, ip, kubeType)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Node{}, apierror.Conflict("node %q is already registered", hostname)
		}
		return Node{}, err
	}
	return n, nil
}

// Update rewrites a node's address or kube type.
func (s *Service) Update(ctx context.Context, id int64, ip string, kubeType int) (Node, error) {
	if _, err := netip.ParseAddr(ip); err != nil {
		return Node{}, apierror.Validation("invalid node ip %q", ip)
	}
	if _, err := s.catalog.Kube(ctx, kubeType); err != nil {
		return Node{}, err
	}
	n, err := s.store.Update(ctx, id, ip, kubeType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, apierror.NotFound("node %d does not exist", id)
		}
		return Node{}, err
	}
	return s.enrich(ctx, n), nil
}

// Delete unregisters a node. Nodes still hosting pinned pods stay.
func (s *Service) Delete(ctx context.Context, id int64) error {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierror.NotFound("node %d does not exist", id)
		}
		return err
	}

	pinned, err := s.store.CountPinnedPods(ctx, n.Hostname)
	if err != nil {
		return err
	}
	if pinned > 0 {
		return apierror.Conflict("node %q still hosts %d pinned pods", n.Hostname, pinned)
	}
	return s.store.Delete(ctx, id)
}
