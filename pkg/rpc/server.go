package rpc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nexusd/nexusd/pkg/config"
	"github.com/nexusd/nexusd/pkg/nexuscore"
	"github.com/nexusd/nexusd/pkg/nexuserrors"
	"github.com/nexusd/nexusd/pkg/nvmf/subsystem"
	"github.com/nexusd/nexusd/pkg/nvmf/target"
	"github.com/nexusd/nexusd/pkg/nvmf/transport"
	"k8s.io/klog/v2"
)

const preSharedKeyLength = 16

// Server implements Service against a nexuscore.Manager (C1-C4) and an
// nvmf/target.Target (C5-C7). It is the only place in this module where
// the two halves of the spec meet: the RPC collaborator drives both
// through this single call boundary.
type Server struct {
	mu            sync.Mutex
	manager       *nexuscore.Manager
	target        *target.Target
	nexusOpts     config.ErrorMonitoringOpts
	errCapacity   int
	published     map[uuid.UUID]string // uuid -> device path, once published.
	rebuildStates map[string]nexuscore.RebuildState
}

// NewServer builds a Server. The target is expected to already be Started
// by the daemon's bring-up sequence.
func NewServer(m *nexuscore.Manager, t *target.Target, cfg config.Config) *Server {
	return &Server{
		manager:       m,
		target:        t,
		nexusOpts:     cfg.ErrMonitoringOpts,
		errCapacity:   cfg.ErrStoreCapacity(),
		published:     make(map[uuid.UUID]string),
		rebuildStates: make(map[string]nexuscore.RebuildState),
	}
}

func (s *Server) ListNexus(ctx context.Context) ([]NexusSummary, error) {
	nexuses := s.manager.List()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NexusSummary, 0, len(nexuses))
	for _, n := range nexuses {
		children := n.Children()
		names := make([]string, 0, len(children))
		for _, c := range children {
			names = append(names, c.Name)
		}
		out = append(out, NexusSummary{
			UUID:       n.UUID,
			Size:       n.Size,
			State:      n.State.String(),
			Children:   names,
			DevicePath: s.published[n.UUID],
			Rebuilds:   s.activeRebuildCountLocked(n.UUID),
		})
	}
	return out, nil
}

// activeRebuildCountLocked counts rebuild jobs in flight for nexus id.
// Callers must hold s.mu.
func (s *Server) activeRebuildCountLocked(id uuid.UUID) int {
	prefix := id.String() + "/"
	count := 0
	for key, state := range s.rebuildStates {
		if state == nexuscore.RebuildRunning && strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count
}

func (s *Server) nexusName(id uuid.UUID) string { return id.String() }

func (s *Server) CreateNexus(ctx context.Context, args CreateNexusArgs) error {
	if args.UUID == uuid.Nil {
		return nexuserrors.New(nexuserrors.KindInvalidInput, "create_nexus: invalid uuid")
	}
	if len(args.Children) == 0 {
		return nexuserrors.New(nexuserrors.KindInvalidInput, "create_nexus: at least one child is required")
	}

	children := make([]*nexuscore.Child, 0, len(args.Children))
	for _, spec := range args.Children {
		c, err := nexuscore.NewChild(spec.Name, spec.DeviceID, s.errCapacity)
		if err != nil {
			return err
		}
		children = append(children, c)
	}

	n, err := nexuscore.NewNexus(s.nexusName(args.UUID), args.UUID, args.Size, children)
	if err != nil {
		return err
	}

	opts := nexuscore.ErrorMonitoringOptions{
		MaxRetryErrors:  s.nexusOpts.MaxRetryErrors,
		MaxErrorAgeNS:   s.nexusOpts.MaxErrorAgeNS,
		FaultChildOnMax: s.nexusOpts.FaultChildOnErr,
	}
	if err := s.manager.Register(n, opts); err != nil {
		return err
	}

	if _, err := subsystem.New(s.target.Registry(), args.UUID.String()); err != nil {
		s.manager.Unregister(s.nexusName(args.UUID))
		return err
	}
	return nil
}

func (s *Server) DestroyNexus(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.manager.Nexus(s.nexusName(id)); !ok {
		return nexuserrors.ErrNexusNotFound
	}
	if ss, ok := s.target.Registry().Lookup(id.String()); ok {
		ss.Destroy(s.target.Registry())
	}
	s.manager.Unregister(s.nexusName(id))

	s.mu.Lock()
	delete(s.published, id)
	s.mu.Unlock()
	return nil
}

func (s *Server) PublishNexus(ctx context.Context, args PublishNexusArgs) (string, error) {
	if args.Key != "" && len(args.Key) != preSharedKeyLength {
		return "", nexuserrors.ErrInvalidKeyLength
	}
	if args.ShareProtocol != ShareNVMf {
		return "", nexuserrors.ErrInvalidShareProtocol
	}
	n, ok := s.manager.Nexus(s.nexusName(args.UUID))
	if !ok {
		return "", nexuserrors.ErrNexusNotFound
	}
	ss, ok := s.target.Registry().Lookup(args.UUID.String())
	if !ok {
		return "", nexuserrors.ErrSubsystemNotFound
	}

	for _, child := range n.Children() {
		if err := ss.AddNamespace(s.target.Registry(), child.DeviceID, child.DeviceID); err != nil {
			return "", err
		}
		break // a Subsystem owns at most one Namespace in this spec (NSID=1).
	}

	for _, tr := range s.target.Transports().Transports() {
		if err := ss.AddListener(ctx, tr); err != nil {
			return "", err
		}
		break
	}
	if err := ss.Start(ctx, s.target.Registry()); err != nil {
		return "", err
	}

	endpoints := ss.URIEndpoints()
	if len(endpoints) == 0 {
		return "", nexuserrors.New(nexuserrors.KindConfiguration, "publish_nexus: subsystem started with no listener endpoints")
	}
	path := endpoints[0]
	s.mu.Lock()
	s.published[args.UUID] = path
	s.mu.Unlock()
	return path, nil
}

func (s *Server) UnpublishNexus(ctx context.Context, id uuid.UUID) error {
	ss, ok := s.target.Registry().Lookup(id.String())
	if !ok {
		return nexuserrors.ErrNexusNotFound
	}
	if err := ss.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.published, id)
	s.mu.Unlock()
	return nil
}

func (s *Server) AddChild(ctx context.Context, id uuid.UUID, uri string) error {
	if _, ok := s.manager.Nexus(s.nexusName(id)); !ok {
		return nexuserrors.ErrNexusNotFound
	}
	// Adding a child to a live nexus's active set is part of the rebuild
	// collaborator's remit (out of scope); this call boundary exists so
	// the RPC surface is complete even though nexuscore.Nexus's child set
	// is fixed at construction in this spec's scope.
	return nexuserrors.New(nexuserrors.KindConfiguration, "add_child: runtime child addition requires the rebuild collaborator, out of scope")
}

func (s *Server) RemoveChild(ctx context.Context, id uuid.UUID, uri string) error {
	n, ok := s.manager.Nexus(s.nexusName(id))
	if !ok {
		return nexuserrors.ErrNexusNotFound
	}
	if _, ok := n.ChildByName(uri); !ok {
		return nexuserrors.ErrChildNotFound
	}
	return nil
}

func (s *Server) OnlineChild(ctx context.Context, id uuid.UUID, uri string) error {
	if _, ok := s.manager.Nexus(s.nexusName(id)); !ok {
		return nexuserrors.ErrNexusNotFound
	}
	// Returning a Faulted child to service is the rebuild collaborator's
	// job per spec.md section 4.4; this call boundary only validates
	// that the target exists.
	return nil
}

func (s *Server) OfflineChild(ctx context.Context, id uuid.UUID, uri string, noRebuild bool) error {
	n, ok := s.manager.Nexus(s.nexusName(id))
	if !ok {
		return nexuserrors.ErrNexusNotFound
	}
	if _, ok := n.ChildByName(uri); !ok {
		return nexuserrors.ErrChildNotFound
	}
	klog.V(4).Infof("offline_child: %s/%s (norebuild=%v)", id, uri, noRebuild)
	return nil
}

func (s *Server) rebuildKey(id uuid.UUID, uri string) string {
	return fmt.Sprintf("%s/%s", id, uri)
}

func (s *Server) StartRebuild(ctx context.Context, id uuid.UUID, uri string) error {
	n, ok := s.manager.Nexus(s.nexusName(id))
	if !ok {
		return nexuserrors.ErrNexusNotFound
	}
	if _, ok := n.ChildByName(uri); !ok {
		return nexuserrors.ErrChildNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildStates[s.rebuildKey(id, uri)] = nexuscore.RebuildRunning
	return nil
}

func (s *Server) StopRebuild(ctx context.Context, id uuid.UUID, uri string) error {
	return s.setRebuildState(id, uri, nexuscore.RebuildStopped)
}

func (s *Server) PauseRebuild(ctx context.Context, id uuid.UUID, uri string) error {
	return s.setRebuildState(id, uri, nexuscore.RebuildPaused)
}

func (s *Server) ResumeRebuild(ctx context.Context, id uuid.UUID, uri string) error {
	return s.setRebuildState(id, uri, nexuscore.RebuildRunning)
}

func (s *Server) setRebuildState(id uuid.UUID, uri string, state nexuscore.RebuildState) error {
	key := s.rebuildKey(id, uri)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rebuildStates[key]; !ok {
		return nexuserrors.ErrChildNotFound
	}
	s.rebuildStates[key] = state
	return nil
}

func (s *Server) GetRebuildState(ctx context.Context, id uuid.UUID, uri string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.rebuildStates[s.rebuildKey(id, uri)]
	if !ok {
		return "", nexuserrors.ErrChildNotFound
	}
	return state.String(), nil
}

func (s *Server) GetRebuildProgress(ctx context.Context, id uuid.UUID, uri string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.rebuildStates[s.rebuildKey(id, uri)]
	if !ok {
		return 0, nexuserrors.ErrChildNotFound
	}
	if state == nexuscore.RebuildCompleted {
		return 100, nil
	}
	return 0, nil
}

// Transports exposes the transport table of the server's target.
func (s *Server) Transports() *transport.Table { return s.target.Transports() }
