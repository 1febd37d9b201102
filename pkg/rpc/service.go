// Package rpc defines the call-boundary surface consumed by the nexus
// collaborator (spec.md section 6): create/destroy/publish and child/rebuild
// management operations. Wire encoding is out of scope; Service is a plain
// Go interface a transport (gRPC, HTTP, a CLI) can be layered over without
// this package knowing or caring which one.
package rpc

import (
	"context"

	"github.com/google/uuid"
)

// NexusSummary is one row of ListNexus's result.
type NexusSummary struct {
	UUID        uuid.UUID
	Size        uint64
	State       string
	Children    []string
	DevicePath  string
	Rebuilds    int
}

// CreateNexusArgs mirrors create_nexus's {uuid,size,children[]}.
type CreateNexusArgs struct {
	UUID     uuid.UUID
	Size     uint64
	Children []ChildSpec
}

// ChildSpec identifies a backing device to add as a nexus child.
type ChildSpec struct {
	Name     string
	DeviceID string
}

// ShareProtocol is the export protocol requested by publish_nexus.
type ShareProtocol int

const (
	ShareNone ShareProtocol = iota
	ShareNVMf
)

// PublishNexusArgs mirrors publish_nexus's {uuid,key,share_protocol}.
type PublishNexusArgs struct {
	UUID          uuid.UUID
	Key           string // pre-shared opaque key; must be empty or 16 bytes.
	ShareProtocol ShareProtocol
}

// Service is the RPC surface the nexus core exposes to its collaborator.
// Every method corresponds to one row of spec.md section 6's method table.
type Service interface {
	ListNexus(ctx context.Context) ([]NexusSummary, error)
	CreateNexus(ctx context.Context, args CreateNexusArgs) error
	DestroyNexus(ctx context.Context, id uuid.UUID) error
	PublishNexus(ctx context.Context, args PublishNexusArgs) (devicePath string, err error)
	UnpublishNexus(ctx context.Context, id uuid.UUID) error

	AddChild(ctx context.Context, id uuid.UUID, uri string) error
	RemoveChild(ctx context.Context, id uuid.UUID, uri string) error
	OnlineChild(ctx context.Context, id uuid.UUID, uri string) error
	OfflineChild(ctx context.Context, id uuid.UUID, uri string, noRebuild bool) error

	StartRebuild(ctx context.Context, id uuid.UUID, uri string) error
	StopRebuild(ctx context.Context, id uuid.UUID, uri string) error
	PauseRebuild(ctx context.Context, id uuid.UUID, uri string) error
	ResumeRebuild(ctx context.Context, id uuid.UUID, uri string) error
	GetRebuildState(ctx context.Context, id uuid.UUID, uri string) (string, error)
	GetRebuildProgress(ctx context.Context, id uuid.UUID, uri string) (percent int, err error)
}
