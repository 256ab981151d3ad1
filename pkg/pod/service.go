package pod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	corev1 "k8s.io/api/core/v1"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/telemetry"
	"github.com/wisbric/kuberdock/pkg/billing"
	"github.com/wisbric/kuberdock/pkg/image"
	"github.com/wisbric/kuberdock/pkg/ippool"
	"github.com/wisbric/kuberdock/pkg/lock"
	"github.com/wisbric/kuberdock/pkg/pd"
	"github.com/wisbric/kuberdock/pkg/settings"
)

// Command names accepted by the update envelope.
const (
	CommandStart        = "start"
	CommandStop         = "stop"
	CommandRedeploy     = "redeploy"
	CommandSet          = "set"
	CommandResize       = "resize"
	CommandChangeConfig = "change_config"
)

// commandLockTTL bounds how long a command may hold the per-pod lock. Expiry
// while a handler still runs is a programming error and is logged loudly.
const commandLockTTL = 2 * time.Minute

// clusterAPI is the slice of the Kubernetes client the controller drives.
// Tests substitute a recorder.
type clusterAPI interface {
	EnsureNamespace(ctx context.Context, name string) error
	DeleteNamespace(ctx context.Context, name string) error
	CreateReplicationController(ctx context.Context, namespace string, rc *corev1.ReplicationController) error
	DeleteReplicationController(ctx context.Context, namespace, name string) error
	CreateService(ctx context.Context, namespace string, svc *corev1.Service) error
	DeleteServicesByPod(ctx context.Context, namespace, podUID string) error
	ListPodsByLabel(ctx context.Context, namespace, podUID string) ([]corev1.Pod, error)
}

// portRules answers whether a port may be exposed publicly.
type portRules interface {
	IsRestricted(ctx context.Context, port int, protocol string) (bool, error)
}

// Service is the pod controller.
type Service struct {
	pool        *pgxpool.Pool
	store       *Store
	cluster     clusterAPI
	pds         *pd.Service
	ips         *ippool.Service
	catalog     *billing.Service
	settings    *settings.Service
	probe       *image.Probe
	locks       *lock.Manager
	rules       portRules
	internal    string
	localPrefix string
	maintenance bool
	logger      *slog.Logger
}

// ServiceDeps bundles the controller's collaborators.
type ServiceDeps struct {
	Pool         *pgxpool.Pool
	Cluster      clusterAPI
	PDs          *pd.Service
	IPs          *ippool.Service
	Catalog      *billing.Service
	Settings     *settings.Service
	Probe        *image.Probe
	Locks        *lock.Manager
	PortRules    portRules
	InternalUser string
	LocalPrefix  string
	Maintenance  bool
	Logger       *slog.Logger
}

// NewService creates the pod controller.
func NewService(deps ServiceDeps) *Service {
	return &Service{
		pool:        deps.Pool,
		store:       NewStore(deps.Pool),
		cluster:     deps.Cluster,
		pds:         deps.PDs,
		ips:         deps.IPs,
		catalog:     deps.Catalog,
		settings:    deps.Settings,
		probe:       deps.Probe,
		locks:       deps.Locks,
		rules:       deps.PortRules,
		internal:    deps.InternalUser,
		localPrefix: deps.LocalPrefix,
		maintenance: deps.Maintenance,
		logger:      deps.Logger,
	}
}

func (s *Service) checkMaintenance() error {
	if s.maintenance {
		return apierror.New(apierror.KindMaintenanceMode,
			"the cluster is under maintenance; mutating operations are disabled")
	}
	return nil
}

// lockName scopes the exclusive lock to one pod.
func lockName(podID uuid.UUID) string {
	return "pod." + podID.String()
}

// acquire takes the per-pod lock, translating contention into a conflict.
func (s *Service) acquire(ctx context.Context, podID uuid.UUID) (*lock.Lock, error) {
	l, err := s.locks.Acquire(ctx, lockName(podID), commandLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, apierror.Conflict("another operation on this pod is in progress")
		}
		return nil, err
	}
	return l, nil
}

func (s *Service) release(ctx context.Context, l *lock.Lock) {
	if err := s.locks.Release(ctx, l); err != nil {
		if errors.Is(err, lock.ErrNotHeld) {
			// TTL expired under a live handler.
			s.logger.Error("pod command lock expired while handler was running",
				"lock", l.Name, "ttl", l.TTL)
			return
		}
		s.logger.Warn("releasing pod lock", "lock", l.Name, "error", err)
	}
}

// Get returns one pod with its cluster-projected status.
func (s *Service) Get(ctx context.Context, caller *auth.Identity, podID uuid.UUID) (Pod, error) {
	p, err := s.store.Get(ctx, podID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pod{}, apierror.NotFound("pod %s not found", podID)
		}
		return Pod{}, err
	}
	if !caller.IsAdmin() && p.OwnerID != caller.UserID {
		return Pod{}, apierror.NotFound("pod %s not found", podID)
	}
	if !p.IsLive() {
		return Pod{}, apierror.NotFound("pod %s not found", podID)
	}
	s.projectStatus(ctx, &p)
	return p, nil
}

// List returns the pods of one owner with projected statuses.
func (s *Service) List(ctx context.Context, ownerID int64) ([]Pod, error) {
	items, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		s.projectStatus(ctx, &items[i])
	}
	if items == nil {
		items = []Pod{}
	}
	return items, nil
}

// projectStatus overlays the cluster phase onto the DB status: Kubernetes
// wins while the pod exists there, the database otherwise.
func (s *Service) projectStatus(ctx context.Context, p *Pod) {
	switch p.Status {
	case StatusDeleted, StatusDeleting, StatusStopped, StatusUnpaid:
		return
	}
	pods, err := s.cluster.ListPodsByLabel(ctx, p.Namespace(), p.ID.String())
	if err != nil || len(pods) == 0 {
		return
	}
	switch pods[0].Status.Phase {
	case corev1.PodRunning:
		p.Status = StatusRunning
	case corev1.PodPending:
		p.Status = StatusPending
	case corev1.PodSucceeded:
		p.Status = StatusSucceeded
	case corev1.PodFailed:
		p.Status = StatusFailed
	}
}

// limits resolves the validation gates for one request.
func (s *Service) limits(ctx context.Context) Limits {
	return Limits{
		MaxKubesPerContainer: s.settings.GetInt(ctx, settings.MaxKubesPerContainer),
		RestrictedPort: func(port int, protocol string) bool {
			if s.rules == nil {
				return false
			}
			restricted, err := s.rules.IsRestricted(ctx, port, protocol)
			if err != nil {
				s.logger.Warn("checking restricted ports", "error", err)
				return false
			}
			return restricted
		},
	}
}

// checkImages verifies every container is runnable before any Kubernetes
// write: a container without an explicit command needs CMD or ENTRYPOINT in
// its image.
func (s *Service) checkImages(ctx context.Context, ownerID int64, spec *Spec) error {
	for i := range spec.Containers {
		c := &spec.Containers[i]
		if len(c.Command) > 0 || len(c.Args) > 0 {
			continue
		}
		cfg, err := s.probe.Resolve(ctx, ownerID, c.Image, nil)
		if err != nil {
			return err
		}
		if !cfg.HasCommand() {
			return image.ErrMissingCommand(c.Image)
		}
	}
	return nil
}

// validateAgainstCatalog runs the quota and shape gates for a spec.
func (s *Service) validateAgainstCatalog(ctx context.Context, owner UserInfo, spec *Spec, isAdmin bool) error {
	if spec.KubeType == billing.InternalKubeID && owner.Username != s.internal && !isAdmin {
		return apierror.Validation("kube type %d is reserved", billing.InternalKubeID)
	}
	if _, err := s.catalog.Kube(ctx, spec.KubeType); err != nil {
		return err
	}
	if owner.Username == s.internal {
		return nil
	}
	if err := s.catalog.CheckKubeAllowed(ctx, owner.PackageID, spec.KubeType); err != nil {
		return err
	}
	return s.catalog.CheckKubeQuota(ctx, owner.PackageID, spec.KubeCount())
}

// Create validates and persists a new pod in state stopped. Nothing touches
// Kubernetes until the first start command.
func (s *Service) Create(ctx context.Context, caller *auth.Identity, ownerID int64, spec Spec) (Pod, error) {
	if err := s.checkMaintenance(); err != nil {
		return Pod{}, err
	}

	owner, err := s.store.GetUserInfo(ctx, ownerID)
	if err != nil {
		return Pod{}, err
	}
	if err := ValidateSpec(&spec, s.limits(ctx)); err != nil {
		return Pod{}, err
	}
	if err := s.validateAgainstCatalog(ctx, owner, &spec, caller.IsAdmin()); err != nil {
		return Pod{}, err
	}

	if _, err := s.store.GetLiveByName(ctx, ownerID, spec.Name); err == nil {
		return Pod{}, apierror.New(apierror.KindPodExists,
			"pod %q already exists", spec.Name)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Pod{}, err
	}

	if err := s.checkImages(ctx, ownerID, &spec); err != nil {
		return Pod{}, err
	}

	p := Pod{
		ID:       uuid.New(),
		Sid:      NewSid(),
		Name:     spec.Name,
		OwnerID:  ownerID,
		KubeType: spec.KubeType,
		Config:   spec,
		Status:   StatusStopped,
	}
	if spec.Node != "" {
		node := spec.Node
		p.PinnedNode = &node
	}

	created, err := s.store.Insert(ctx, p)
	if err != nil {
		return Pod{}, err
	}
	telemetry.PodCommandsTotal.WithLabelValues("create", "success").Inc()
	s.logger.Info("pod created", "pod", created.ID, "name", created.Name, "owner", ownerID)
	return created, nil
}

// CommandOptions is the commandOptions field of the update envelope.
type CommandOptions struct {
	ApplyEdit       bool              `json:"applyEdit,omitempty"`
	EditedConfig    *Spec             `json:"edited_config,omitempty"`
	Name            string            `json:"name,omitempty"`
	Status          string            `json:"status,omitempty"`
	WipeOut         bool              `json:"wipeOut,omitempty"`
	PostDescription *string           `json:"postDescription,omitempty"`
	Node            *string           `json:"node,omitempty"`
	PublicIP        *string           `json:"public_ip,omitempty"`
	Containers      []ContainerResize `json:"containers,omitempty"`
}

// ContainerResize is one per-container kube change for the resize command.
type ContainerResize struct {
	Name  string `json:"name" validate:"required"`
	Kubes int    `json:"kubes" validate:"required,min=1"`
}

// Command runs one lifecycle command under the pod's exclusive lock.
func (s *Service) Command(ctx context.Context, caller *auth.Identity, podID uuid.UUID, command string, opts CommandOptions) (Pod, error) {
	if err := s.checkMaintenance(); err != nil {
		return Pod{}, err
	}

	p, err := s.Get(ctx, caller, podID)
	if err != nil {
		return Pod{}, err
	}

	if caller.FixPrice {
		switch command {
		case CommandStart, CommandRedeploy:
			return Pod{}, apierror.PermissionDenied(
				"your pods are managed by the billing system; use it to %s the pod", command)
		case CommandSet:
			if opts.Status == StatusUnpaid || opts.Status == "paid" {
				return Pod{}, apierror.PermissionDenied(
					"paid/unpaid transitions are managed by the billing system")
			}
		}
	}

	l, err := s.acquire(ctx, podID)
	if err != nil {
		return Pod{}, err
	}
	defer s.release(ctx, l)

	var out Pod
	switch command {
	case CommandStart:
		out, err = s.start(ctx, p)
	case CommandStop:
		out, err = s.stop(ctx, p)
	case CommandRedeploy:
		out, err = s.redeploy(ctx, p, opts)
	case CommandSet:
		out, err = s.set(ctx, p, opts)
	case CommandResize:
		out, err = s.resize(ctx, p, opts)
	case CommandChangeConfig:
		if !caller.IsAdmin() {
			err = apierror.PermissionDenied("change_config is an internal command")
			break
		}
		out, err = s.changeConfig(ctx, p, opts)
	default:
		err = apierror.Validation("unknown command %q", command)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	telemetry.PodCommandsTotal.WithLabelValues(command, status).Inc()
	if err != nil {
		return Pod{}, err
	}
	return out, nil
}

// start materializes the pod in Kubernetes: namespace, persistent disks,
// public IP, RC, and service.
func (s *Service) start(ctx context.Context, p Pod) (Pod, error) {
	switch p.Status {
	case StatusRunning, StatusPending:
		return Pod{}, apierror.Conflict("pod %q is already running", p.Name)
	case StatusUnpaid:
		return Pod{}, apierror.New(apierror.KindBilling, "pod %q is unpaid", p.Name)
	}

	owner, err := s.store.GetUserInfo(ctx, p.OwnerID)
	if err != nil {
		return Pod{}, err
	}
	if err := s.validateAgainstCatalog(ctx, owner, &p.Config, owner.Username == s.internal); err != nil {
		return Pod{}, err
	}
	if err := s.checkImages(ctx, p.OwnerID, &p.Config); err != nil {
		return Pod{}, err
	}

	if err := s.cluster.EnsureNamespace(ctx, p.Namespace()); err != nil {
		return Pod{}, err
	}

	volumes, rbd, err := s.prepareVolumes(ctx, &p)
	if err != nil {
		return Pod{}, err
	}

	publicIP := ""
	if p.Config.WantsPublicIP() && s.ips.Mode() != ippool.ModeAWS {
		if p.PublicIP != nil {
			publicIP = *p.PublicIP
		} else {
			var preferred *netip.Addr
			if p.Config.PublicIP != "" {
				if addr, err := netip.ParseAddr(p.Config.PublicIP); err == nil {
					preferred = &addr
				}
			}
			addr, err := s.ips.Assign(ctx, p.ID, p.PinnedNode, preferred)
			if err != nil {
				return Pod{}, err
			}
			publicIP = addr.String()
			if err := s.store.SetPublicIP(ctx, p.ID, &publicIP); err != nil {
				return Pod{}, err
			}
			p.PublicIP = &publicIP
			if s.ips.FixedMode() && p.PinnedNode == nil {
				// A fixed-pool address pins the pod to the pool's node; the
				// allocation already honored the constraint if one was set.
				s.logger.Debug("fixed-mode IP assigned to unpinned pod", "pod", p.ID)
			}
		}
	}

	kubeShape, err := s.catalog.Kube(ctx, p.Config.KubeType)
	if err != nil {
		return Pod{}, err
	}
	input := SynthesisInput{
		Pod:              p,
		Kube:             kubeShape,
		CPUMultiplier:    s.settings.GetInt(ctx, settings.CPUMultiplier),
		MemoryMultiplier: s.settings.GetInt(ctx, settings.MemoryMultiplier),
		Internal:         owner.Username == s.internal,
		PublicIP:         publicIP,
		Mode:             s.ips.Mode(),
		Volumes:          volumes,
		RBDVolumes:       rbd,
	}

	if svc := BuildService(input); svc != nil {
		if err := s.cluster.CreateService(ctx, p.Namespace(), svc); err != nil {
			return Pod{}, err
		}
	}

	rc, err := BuildRC(input)
	if err != nil {
		return Pod{}, err
	}
	if err := s.cluster.CreateReplicationController(ctx, p.Namespace(), rc); err != nil {
		return Pod{}, err
	}

	if err := s.store.SetStatus(ctx, p.ID, StatusPending); err != nil {
		return Pod{}, err
	}
	p.Status = StatusPending
	s.logger.Info("pod started", "pod", p.ID, "sid", p.Sid)
	return p, nil
}

// prepareVolumes resolves every mounted volume into its Kubernetes stanza:
// persistent disks are ensured and taken, local storage becomes a hostPath
// under the node prefix.
func (s *Service) prepareVolumes(ctx context.Context, p *Pod) ([]corev1.Volume, map[string]bool, error) {
	mounted := map[string]bool{}
	for _, c := range p.Config.Containers {
		for _, m := range c.VolumeMounts {
			mounted[m.Name] = true
		}
	}

	var (
		volumes    []corev1.Volume
		rbd        = map[string]bool{}
		driveNames []string
		disks      = map[string]pd.Disk{}
	)
	backend := s.pds.Backend()

	for _, v := range p.Config.Volumes {
		if !mounted[v.Name] {
			continue
		}
		switch {
		case v.PersistentDisk != nil:
			size := v.PersistentDisk.PDSize
			if size == 0 {
				size = 1
			}
			disk, err := s.pds.Ensure(ctx, v.PersistentDisk.PDName, p.OwnerID, size)
			if err != nil {
				return nil, nil, err
			}
			disks[v.Name] = disk
			driveNames = append(driveNames, disk.DriveName)
		case v.LocalStorage:
			volumes = append(volumes, corev1.Volume{
				Name: v.Name,
				VolumeSource: corev1.VolumeSource{
					HostPath: &corev1.HostPathVolumeSource{
						Path: fmt.Sprintf("%s/%s/%s", s.localPrefix, p.ID, v.Name),
					},
				},
			})
		}
	}

	if err := s.pds.Take(ctx, p.ID, driveNames); err != nil {
		return nil, nil, err
	}

	for name, disk := range disks {
		vol := corev1.Volume{Name: name}
		backend.EnrichVolume(&vol, disk)
		volumes = append(volumes, vol)
		if backend.Name() == "ceph" {
			rbd[name] = true
		}
		// A node-bound drive pins the pod where the drive lives.
		if backend.NodeBound() && disk.NodeID != nil {
			if p.PinnedNode != nil && *p.PinnedNode != *disk.NodeID {
				return nil, nil, apierror.Conflict(
					"disk %q lives on node %s but the pod is pinned to %s",
					disk.Name, *disk.NodeID, *p.PinnedNode)
			}
			if p.PinnedNode == nil {
				if err := s.store.SetPinnedNode(ctx, p.ID, disk.NodeID); err != nil {
					return nil, nil, err
				}
				p.PinnedNode = disk.NodeID
			}
		}
	}

	if p.Config.HasLocalStorage() && p.PinnedNode == nil && p.Config.Node != "" {
		node := p.Config.Node
		if err := s.store.SetPinnedNode(ctx, p.ID, &node); err != nil {
			return nil, nil, err
		}
		p.PinnedNode = &node
	}
	return volumes, rbd, nil
}

// stop tears the RC down, releases disks, and keeps the row. The service and
// its public IP survive so a restart keeps the address.
func (s *Service) stop(ctx context.Context, p Pod) (Pod, error) {
	if p.Status == StatusStopped {
		return p, nil
	}
	if err := s.cluster.DeleteReplicationController(ctx, p.Namespace(), p.Sid); err != nil {
		return Pod{}, err
	}
	if err := s.pds.DetachAll(ctx, p.ID); err != nil {
		return Pod{}, err
	}
	if err := s.store.SetStatus(ctx, p.ID, StatusStopped); err != nil {
		return Pod{}, err
	}
	p.Status = StatusStopped
	s.logger.Info("pod stopped", "pod", p.ID)
	return p, nil
}

// redeploy rolls the RC under a fresh sid, optionally applying an edited
// config first.
func (s *Service) redeploy(ctx context.Context, p Pod, opts CommandOptions) (Pod, error) {
	if opts.ApplyEdit && opts.EditedConfig != nil {
		cfg := *opts.EditedConfig
		cfg.Name = p.Name
		if err := ValidateSpec(&cfg, s.limits(ctx)); err != nil {
			return Pod{}, err
		}
		owner, err := s.store.GetUserInfo(ctx, p.OwnerID)
		if err != nil {
			return Pod{}, err
		}
		if err := s.validateAgainstCatalog(ctx, owner, &cfg, owner.Username == s.internal); err != nil {
			return Pod{}, err
		}
		if err := s.store.SetConfig(ctx, p.ID, cfg); err != nil {
			return Pod{}, err
		}
		p.Config = cfg
		p.KubeType = cfg.KubeType
	}

	if err := s.cluster.DeleteReplicationController(ctx, p.Namespace(), p.Sid); err != nil {
		return Pod{}, err
	}

	sid := NewSid()
	if err := s.store.SetSid(ctx, p.ID, sid); err != nil {
		return Pod{}, err
	}
	p.Sid = sid
	p.Status = StatusStopped
	return s.start(ctx, p)
}

// set applies in-place metadata changes.
func (s *Service) set(ctx context.Context, p Pod, opts CommandOptions) (Pod, error) {
	if opts.WipeOut && opts.Status != StatusUnpaid && opts.Status != StatusStopped {
		return Pod{}, apierror.Validation(
			"wipeOut is only valid together with a stopped or unpaid status")
	}

	if opts.Name != "" && opts.Name != p.Name {
		if len(opts.Name) > MaxNameLength || !nameRe.MatchString(opts.Name) {
			return Pod{}, apierror.Validation("invalid pod name %q", opts.Name)
		}
		if _, err := s.store.GetLiveByName(ctx, p.OwnerID, opts.Name); err == nil {
			return Pod{}, apierror.New(apierror.KindPodExists,
				"pod %q already exists", opts.Name)
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return Pod{}, err
		}
		if err := s.store.SetName(ctx, p.ID, opts.Name); err != nil {
			return Pod{}, err
		}
		p.Name = opts.Name
	}

	// The stop below detaches every disk, so the wipe list is captured first.
	var wipe []pd.Disk
	if opts.WipeOut {
		var err error
		wipe, err = s.pds.ListByPod(ctx, p.ID)
		if err != nil {
			return Pod{}, err
		}
	}

	switch opts.Status {
	case "":
	case StatusUnpaid:
		stopped, err := s.stop(ctx, p)
		if err != nil {
			return Pod{}, err
		}
		p = stopped
		if err := s.store.SetUnpaid(ctx, p.ID, true); err != nil {
			return Pod{}, err
		}
		if err := s.store.SetStatus(ctx, p.ID, StatusUnpaid); err != nil {
			return Pod{}, err
		}
		p.Unpaid = true
		p.Status = StatusUnpaid
	case StatusStopped:
		stopped, err := s.stop(ctx, p)
		if err != nil {
			return Pod{}, err
		}
		p = stopped
		if p.Unpaid {
			if err := s.store.SetUnpaid(ctx, p.ID, false); err != nil {
				return Pod{}, err
			}
			p.Unpaid = false
		}
	default:
		return Pod{}, apierror.Validation(
			"status %q cannot be set directly", opts.Status)
	}

	// wipeOut drops the data but keeps the named disks: each one is retired
	// for GC and replaced by a fresh companion, so the next start
	// re-provisions empty drives.
	for _, d := range wipe {
		if _, err := s.pds.MarkToDelete(ctx, d.ID, p.OwnerID, false); err != nil {
			return Pod{}, err
		}
		s.logger.Info("disk wiped on status transition",
			"pod", p.ID, "drive", d.DriveName)
	}

	if opts.PostDescription != nil {
		p.Config.SetPostDescription(*opts.PostDescription)
		if err := s.store.SetConfig(ctx, p.ID, p.Config); err != nil {
			return Pod{}, err
		}
	}
	return p, nil
}

// resize changes per-container kube counts, re-checks the gates, and rolls
// the RC when the pod is live.
func (s *Service) resize(ctx context.Context, p Pod, opts CommandOptions) (Pod, error) {
	if len(opts.Containers) == 0 {
		return Pod{}, apierror.Validation("resize requires a containers list")
	}

	cfg := p.Config
	byName := map[string]*Container{}
	for i := range cfg.Containers {
		byName[cfg.Containers[i].Name] = &cfg.Containers[i]
	}
	for _, r := range opts.Containers {
		c, ok := byName[r.Name]
		if !ok {
			return Pod{}, apierror.NotFound("container %q not found", r.Name)
		}
		c.Kubes = r.Kubes
	}

	if err := ValidateSpec(&cfg, s.limits(ctx)); err != nil {
		return Pod{}, err
	}
	owner, err := s.store.GetUserInfo(ctx, p.OwnerID)
	if err != nil {
		return Pod{}, err
	}
	if err := s.validateAgainstCatalog(ctx, owner, &cfg, owner.Username == s.internal); err != nil {
		return Pod{}, err
	}

	if err := s.store.SetConfig(ctx, p.ID, cfg); err != nil {
		return Pod{}, err
	}
	p.Config = cfg

	if p.Status == StatusRunning || p.Status == StatusPending {
		return s.redeploy(ctx, p, CommandOptions{})
	}
	return p, nil
}

// changeConfig adjusts public-IP and node bindings. Internal: the billing
// and install collaborators call it through admin credentials.
func (s *Service) changeConfig(ctx context.Context, p Pod, opts CommandOptions) (Pod, error) {
	if opts.Node != nil {
		node := opts.Node
		if *node == "" {
			node = nil
		}
		if err := s.store.SetPinnedNode(ctx, p.ID, node); err != nil {
			return Pod{}, err
		}
		p.PinnedNode = node
	}
	if opts.PublicIP != nil {
		ip := opts.PublicIP
		if *ip == "" {
			if err := s.ips.Release(ctx, p.ID); err != nil {
				return Pod{}, err
			}
			ip = nil
		}
		if err := s.store.SetPublicIP(ctx, p.ID, ip); err != nil {
			return Pod{}, err
		}
		p.PublicIP = ip
	}
	return p, nil
}

// Delete tears the pod down everywhere and tombstones the row: the salted
// name frees the (owner, name) slot while usage records keep their target.
func (s *Service) Delete(ctx context.Context, caller *auth.Identity, podID uuid.UUID) error {
	if err := s.checkMaintenance(); err != nil {
		return err
	}
	p, err := s.Get(ctx, caller, podID)
	if err != nil {
		return err
	}

	l, err := s.acquire(ctx, podID)
	if err != nil {
		return err
	}
	defer s.release(ctx, l)

	if err := s.store.SetStatus(ctx, p.ID, StatusDeleting); err != nil {
		return err
	}

	if err := s.cluster.DeleteReplicationController(ctx, p.Namespace(), p.Sid); err != nil {
		s.logger.Warn("deleting pod RC", "pod", p.ID, "error", err)
	}
	if err := s.cluster.DeleteServicesByPod(ctx, p.Namespace(), p.ID.String()); err != nil {
		s.logger.Warn("deleting pod services", "pod", p.ID, "error", err)
	}
	if err := s.cluster.DeleteNamespace(ctx, p.Namespace()); err != nil {
		s.logger.Warn("deleting pod namespace", "pod", p.ID, "error", err)
	}

	if err := s.ips.Release(ctx, p.ID); err != nil {
		return err
	}
	if err := s.pds.DetachAll(ctx, p.ID); err != nil {
		return err
	}

	if err := s.store.Tombstone(ctx, p.ID, TombstoneName(p.Name)); err != nil {
		return err
	}
	telemetry.PodCommandsTotal.WithLabelValues("delete", "success").Inc()
	s.logger.Info("pod deleted", "pod", p.ID, "name", p.Name)
	return nil
}

// CheckUpdate reports whether a newer image exists for one container.
func (s *Service) CheckUpdate(ctx context.Context, caller *auth.Identity, podID uuid.UUID, container string) (bool, error) {
	p, err := s.Get(ctx, caller, podID)
	if err != nil {
		return false, err
	}
	c := findContainer(&p.Config, container)
	if c == nil {
		return false, apierror.NotFound("container %q not found", container)
	}

	digest, err := s.probe.Digest(ctx, p.OwnerID, c.Image, nil)
	if err != nil {
		return false, err
	}
	if c.Digest == "" {
		// First check; remember the current digest as the baseline.
		c.Digest = digest
		if err := s.store.SetConfig(ctx, p.ID, p.Config); err != nil {
			return false, err
		}
		return false, nil
	}
	return digest != c.Digest, nil
}

// ApplyUpdate pulls the container's current image by rolling the RC and
// records the new digest.
func (s *Service) ApplyUpdate(ctx context.Context, caller *auth.Identity, podID uuid.UUID, container string) (Pod, error) {
	if err := s.checkMaintenance(); err != nil {
		return Pod{}, err
	}
	p, err := s.Get(ctx, caller, podID)
	if err != nil {
		return Pod{}, err
	}
	c := findContainer(&p.Config, container)
	if c == nil {
		return Pod{}, apierror.NotFound("container %q not found", container)
	}

	digest, err := s.probe.Digest(ctx, p.OwnerID, c.Image, nil)
	if err != nil {
		return Pod{}, err
	}
	c.Digest = digest
	if err := s.store.SetConfig(ctx, p.ID, p.Config); err != nil {
		return Pod{}, err
	}

	l, err := s.acquire(ctx, podID)
	if err != nil {
		return Pod{}, err
	}
	defer s.release(ctx, l)

	if p.Status != StatusRunning && p.Status != StatusPending {
		return p, nil
	}
	return s.redeploy(ctx, p, CommandOptions{})
}

func findContainer(s *Spec, name string) *Container {
	for i := range s.Containers {
		if s.Containers[i].Name == name {
			return &s.Containers[i]
		}
	}
	return nil
}
