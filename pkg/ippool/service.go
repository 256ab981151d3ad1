package ippool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/db"
	"github.com/wisbric/kuberdock/internal/kube"
	"github.com/wisbric/kuberdock/internal/telemetry"
)

// clusterAPI is the slice of the Kubernetes client the pool manager needs.
// Tests substitute a recorder.
type clusterAPI interface {
	UpdateNodeAnnotation(ctx context.Context, nodeName, key, value string) error
	SetServiceExternalIPs(ctx context.Context, namespace, podUID string, ips []string) error
}

// usageRecorder mirrors IP tenures into the billing interval table.
type usageRecorder interface {
	OpenIPState(ctx context.Context, podID uuid.UUID, ip string) error
	CloseIPState(ctx context.Context, podID uuid.UUID) error
}

// Service is the IP pool manager.
type Service struct {
	pool    *pgxpool.Pool
	store   *Store
	cluster clusterAPI
	usage   usageRecorder
	mode    string
	logger  *slog.Logger
}

// NewService creates the pool manager in the configured allocation mode.
func NewService(pool *pgxpool.Pool, cluster clusterAPI, mode string, logger *slog.Logger) *Service {
	return &Service{
		pool:    pool,
		store:   NewStore(pool),
		cluster: cluster,
		mode:    mode,
		logger:  logger,
	}
}

// SetUsageRecorder attaches the billing interval recorder. Optional; without
// one IP tenures are simply not metered.
func (s *Service) SetUsageRecorder(u usageRecorder) {
	s.usage = u
}

// Mode returns the active allocation mode.
func (s *Service) Mode() string {
	return s.mode
}

// FixedMode reports whether pools are node-bound.
func (s *Service) FixedMode() bool {
	return s.mode == ModeFixed
}

// List returns all pools with derived occupancy counts.
func (s *Service) List(ctx context.Context) ([]PoolView, error) {
	pools, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PoolView, 0, len(pools))
	for _, p := range pools {
		view, err := s.view(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// PoolView is a pool plus its occupancy, as listed by the API.
type PoolView struct {
	Pool
	HostCount int      `json:"host_count"`
	Allocated int      `json:"allocated"`
	Blocked   []string `json:"blocked"`
	Free      int      `json:"free"`
}

func (s *Service) view(ctx context.Context, p Pool) (PoolView, error) {
	hosts, err := p.HostCount()
	if err != nil {
		return PoolView{}, err
	}
	allocated, err := s.store.CountAllocated(ctx, p.ID)
	if err != nil {
		return PoolView{}, err
	}
	blocked := make([]string, 0, len(p.BlockedIPs))
	for _, n := range p.BlockedIPs {
		blocked = append(blocked, IntToIP(uint32(n)).String())
	}
	return PoolView{
		Pool:      p,
		HostCount: hosts,
		Allocated: allocated,
		Blocked:   blocked,
		Free:      hosts - allocated - len(p.BlockedIPs),
	}, nil
}

// Get returns one pool by CIDR.
func (s *Service) Get(ctx context.Context, network string) (PoolView, error) {
	p, err := s.store.GetByNetwork(ctx, network)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PoolView{}, apierror.NotFound("IP pool %q not found", network)
		}
		return PoolView{}, err
	}
	return s.view(ctx, p)
}

// Create validates and inserts a pool. The autoblock string is a
// comma-separated mix of single IPs and a-b ranges, pre-blocked at creation.
// In fixed mode the pool must name a node, whose free-count annotation is
// brought up to date.
func (s *Service) Create(ctx context.Context, network string, node *string, autoblock string) (PoolView, error) {
	prefix, err := netip.ParsePrefix(network)
	if err != nil {
		return PoolView{}, apierror.Validation("invalid network %q: %v", network, err)
	}
	if !prefix.Addr().Is4() {
		return PoolView{}, apierror.Validation("only IPv4 pools are supported")
	}
	prefix = prefix.Masked()

	if s.mode == ModeFixed && (node == nil || *node == "") {
		return PoolView{}, apierror.Validation("fixed IP mode requires a node for every pool")
	}
	if s.mode != ModeFixed {
		node = nil
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		return PoolView{}, err
	}
	for _, p := range existing {
		other, err := p.Prefix()
		if err != nil {
			continue
		}
		if prefix.Overlaps(other) {
			return PoolView{}, apierror.Conflict(
				"network %s overlaps existing pool %s", prefix, p.Network)
		}
	}

	blocked, err := ParseAutoblock(autoblock)
	if err != nil {
		return PoolView{}, apierror.Validation("invalid autoblock: %v", err)
	}

	created, err := s.store.Insert(ctx, Pool{
		Network:    prefix.String(),
		IPv6:       false,
		Node:       node,
		BlockedIPs: blocked,
	})
	if err != nil {
		return PoolView{}, err
	}

	if s.mode == ModeFixed {
		if err := s.syncNodeFreeCount(ctx, s.pool, *node); err != nil {
			// The pool row exists; the next allocation resyncs the count.
			s.logger.Warn("syncing node free-IP annotation", "node", *node, "error", err)
		}
	}
	return s.view(ctx, created)
}

// Delete removes a pool. It fails while any pod still holds one of its
// addresses.
func (s *Service) Delete(ctx context.Context, network string) error {
	p, err := s.store.GetByNetwork(ctx, network)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierror.NotFound("IP pool %q not found", network)
		}
		return err
	}

	allocated, err := s.store.CountAllocated(ctx, p.ID)
	if err != nil {
		return err
	}
	if allocated > 0 {
		return apierror.Conflict(
			"cannot delete pool %s: %d addresses are still assigned", network, allocated)
	}

	if err := s.store.Delete(ctx, p.ID); err != nil {
		return err
	}
	if s.mode == ModeFixed && p.Node != nil {
		if err := s.syncNodeFreeCount(ctx, s.pool, *p.Node); err != nil {
			s.logger.Warn("syncing node free-IP annotation", "node", *p.Node, "error", err)
		}
	}
	return nil
}

// Block adds an address to its pool's blocked list. Blocking an already
// allocated address is accepted and does not disturb the allocation.
func (s *Service) Block(ctx context.Context, addr netip.Addr) error {
	return s.updateBlocked(ctx, addr, true)
}

// Unblock removes an address from its pool's blocked list.
func (s *Service) Unblock(ctx context.Context, addr netip.Addr) error {
	return s.updateBlocked(ctx, addr, false)
}

func (s *Service) updateBlocked(ctx context.Context, addr netip.Addr, block bool) error {
	n, err := IPToInt(addr)
	if err != nil {
		return apierror.Validation("%v", err)
	}
	p, err := s.poolFor(ctx, n)
	if err != nil {
		return err
	}

	var (
		next    []int64
		changed bool
	)
	if block {
		next, changed = BlockIP(p.BlockedIPs, n)
	} else {
		next, changed = UnblockIP(p.BlockedIPs, n)
	}
	if !changed {
		return nil
	}
	if err := s.store.SetBlocked(ctx, p.ID, next); err != nil {
		return err
	}
	if s.mode == ModeFixed && p.Node != nil {
		if err := s.syncNodeFreeCount(ctx, s.pool, *p.Node); err != nil {
			s.logger.Warn("syncing node free-IP annotation", "node", *p.Node, "error", err)
		}
	}
	return nil
}

// Unbind releases an allocated address back to its pool and clears the
// owning pod's service binding.
func (s *Service) Unbind(ctx context.Context, addr netip.Addr) error {
	n, err := IPToInt(addr)
	if err != nil {
		return apierror.Validation("%v", err)
	}
	pip, err := s.store.GetPodIPByIP(ctx, n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierror.NotFound("IP %s is not assigned", addr)
		}
		return err
	}
	return s.Release(ctx, pip.PodID)
}

// poolFor finds the pool containing an address integer.
func (s *Service) poolFor(ctx context.Context, n uint32) (Pool, error) {
	pools, err := s.store.List(ctx)
	if err != nil {
		return Pool{}, err
	}
	for _, p := range pools {
		if p.Contains(n) {
			return p, nil
		}
	}
	return Pool{}, apierror.NotFound("no IP pool contains %s", IntToIP(n))
}

// GetFree returns one available address without allocating it, honoring the
// node constraint in fixed mode and the caller's preference when possible.
func (s *Service) GetFree(ctx context.Context, node *string, preferred *netip.Addr) (netip.Addr, error) {
	pools, err := s.candidatePools(ctx, node)
	if err != nil {
		return netip.Addr{}, err
	}

	if preferred != nil {
		if n, err := IPToInt(*preferred); err == nil {
			for _, p := range pools {
				allocated, err := s.store.AllocatedInPool(ctx, p.ID)
				if err != nil {
					return netip.Addr{}, err
				}
				if p.IsFree(n, allocated) {
					return *preferred, nil
				}
			}
		}
	}

	for _, p := range pools {
		allocated, err := s.store.AllocatedInPool(ctx, p.ID)
		if err != nil {
			return netip.Addr{}, err
		}
		if n, ok := p.FirstFree(allocated); ok {
			return IntToIP(n), nil
		}
	}
	return netip.Addr{}, apierror.NoFreeIPs()
}

func (s *Service) candidatePools(ctx context.Context, node *string) ([]Pool, error) {
	if s.mode == ModeFixed && node != nil && *node != "" {
		return s.store.ListByNode(ctx, *node)
	}
	return s.store.List(ctx)
}

// Assign atomically selects a free address and binds it to the pod, then
// re-issues the pod's service with the address in externalIPs. Concurrent
// assigners serialize on the pool row lock. In aws mode nothing is bound
// locally: the ELB hostname is the pod's public identity.
func (s *Service) Assign(ctx context.Context, podID uuid.UUID, node *string, preferred *netip.Addr) (netip.Addr, error) {
	if s.mode == ModeAWS {
		return netip.Addr{}, nil
	}

	var assigned netip.Addr
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		txStore := NewStore(tx)

		pools, err := s.candidatePools(ctx, node)
		if err != nil {
			return err
		}

		for _, candidate := range pools {
			p, err := txStore.LockByID(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			allocated, err := txStore.AllocatedInPool(ctx, p.ID)
			if err != nil {
				return err
			}

			var n uint32
			ok := false
			if preferred != nil {
				if want, err := IPToInt(*preferred); err == nil && p.IsFree(want, allocated) {
					n, ok = want, true
				}
			}
			if !ok {
				n, ok = p.FirstFree(allocated)
			}
			if !ok {
				continue
			}

			if err := txStore.InsertPodIP(ctx, PodIP{PodID: podID, PoolID: p.ID, IP: int64(n)}); err != nil {
				return err
			}
			// In fixed mode the node annotation moves with the DB write; a
			// failed annotation update rolls the allocation back.
			if s.mode == ModeFixed && p.Node != nil {
				if err := s.syncNodeFreeCountTx(ctx, txStore, *p.Node); err != nil {
					return err
				}
			}
			assigned = IntToIP(n)
			return nil
		}
		return apierror.NoFreeIPs()
	})
	if err != nil {
		return netip.Addr{}, err
	}

	telemetry.IPAllocationsTotal.WithLabelValues("assign").Inc()
	if s.usage != nil {
		if err := s.usage.OpenIPState(ctx, podID, assigned.String()); err != nil {
			s.logger.Warn("recording ip tenure start", "pod", podID, "error", err)
		}
	}

	if err := s.cluster.SetServiceExternalIPs(ctx, podID.String(), podID.String(), []string{assigned.String()}); err != nil {
		s.logger.Warn("re-issuing service externalIPs",
			"pod", podID, "ip", assigned, "error", err)
	}
	return assigned, nil
}

// Release frees the pod's public address, if any.
func (s *Service) Release(ctx context.Context, podID uuid.UUID) error {
	pip, err := s.store.GetPodIP(ctx, podID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	removed, err := s.store.DeletePodIP(ctx, podID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	telemetry.IPAllocationsTotal.WithLabelValues("release").Inc()
	if s.usage != nil {
		if err := s.usage.CloseIPState(ctx, podID); err != nil {
			s.logger.Warn("recording ip tenure end", "pod", podID, "error", err)
		}
	}

	if s.mode == ModeFixed {
		pools, err := s.store.List(ctx)
		if err != nil {
			return err
		}
		for _, p := range pools {
			if p.ID == pip.PoolID && p.Node != nil {
				if err := s.syncNodeFreeCount(ctx, s.pool, *p.Node); err != nil {
					s.logger.Warn("syncing node free-IP annotation", "node", *p.Node, "error", err)
				}
			}
		}
	}

	if err := s.cluster.SetServiceExternalIPs(ctx, podID.String(), podID.String(), nil); err != nil {
		s.logger.Warn("clearing service externalIPs", "pod", podID, "error", err)
	}
	return nil
}

// PodIP returns the assignment for one pod, or nil.
func (s *Service) PodIP(ctx context.Context, podID uuid.UUID) (*netip.Addr, error) {
	pip, err := s.store.GetPodIP(ctx, podID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	addr := IntToIP(uint32(pip.IP))
	return &addr, nil
}

// syncNodeFreeCount recomputes one node's free-public-ip-count annotation
// from its pools: host count minus allocated minus blocked.
func (s *Service) syncNodeFreeCount(ctx context.Context, dbtx db.DBTX, node string) error {
	return s.syncNodeFreeCountTx(ctx, NewStore(dbtx), node)
}

func (s *Service) syncNodeFreeCountTx(ctx context.Context, store *Store, node string) error {
	pools, err := store.ListByNode(ctx, node)
	if err != nil {
		return err
	}
	free := 0
	for _, p := range pools {
		hosts, err := p.HostCount()
		if err != nil {
			return err
		}
		allocated, err := store.CountAllocated(ctx, p.ID)
		if err != nil {
			return err
		}
		free += hosts - allocated - len(p.BlockedIPs)
	}
	if err := s.cluster.UpdateNodeAnnotation(ctx, node, kube.AnnotationFreePublicIPs, strconv.Itoa(free)); err != nil {
		return fmt.Errorf("updating node %q free-IP annotation: %w", node, err)
	}
	return nil
}
