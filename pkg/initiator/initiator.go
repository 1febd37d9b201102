// Package initiator implements the Device Discovery Helper (C8): the
// initiator-side attach/detach/list operations used by the CSI-adjacent
// node agent to claim exported nexus volumes as local block devices.
package initiator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/nexuserrors"
	"github.com/nexusd/nexusd/pkg/retry"
	"k8s.io/klog/v2"
)

// ealreadyErrno is Linux's EALREADY, returned by the NVMe-oF connect
// primitive when a connection to this NQN is already in progress. The
// spec treats this as success-in-progress, not an error.
const ealreadyErrno = 114

const pollInterval = 1 * time.Second
const pollBudget = 10 * time.Second

// BlockDevice is one locally enumerated NVMe block device, carrying the
// udev properties the device-match contract inspects.
type BlockDevice struct {
	DevName string
	Subsys  string
	IDModel string
	IDWWN   string
}

// Enumerator lists locally visible NVMe block devices, standing in for a
// udevadm/sysfs sweep the way fenio-tns-csi's node_device.go walks
// /sys/class/nvme and nvme list-subsys output.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]BlockDevice, error)
}

// Connector issues the OS-level NVMe-oF connect/disconnect primitives.
type Connector interface {
	// Connect returns a Linux errno (0 for success) rather than only an
	// error, so the EALREADY-is-success-in-progress rule can be applied
	// by the caller without string-matching command output.
	Connect(ctx context.Context, host, port, nqn string) (errno int, err error)
	Disconnect(ctx context.Context, nqn string) (matched int, err error)
}

// Helper implements attach/detach/list against an injected Enumerator and
// Connector, so tests never shell out.
type Helper struct {
	enumerator Enumerator
	connector  Connector
}

func New(enumerator Enumerator, connector Connector) *Helper {
	return &Helper{enumerator: enumerator, connector: connector}
}

// ParsedURI is a decoded nvmf:// attach target.
type ParsedURI struct {
	Host string
	Port string
	NQN  string
	UUID string
}

// ParseURI parses an nvmf://<host>:<port>/<nqn>[...] URI and derives the
// expected UUID from the NQN's trailing 8-4-4-4-12 fragment.
func ParseURI(raw string) (ParsedURI, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "nvmf" || u.Host == "" {
		return ParsedURI{}, nexuserrors.Wrap(nexuserrors.KindInvalidInput, fmt.Sprintf("invalid nvmf URI %q", raw), err)
	}
	host := u.Hostname()
	port := u.Port()
	if host == "" || port == "" {
		return ParsedURI{}, nexuserrors.New(nexuserrors.KindInvalidInput, fmt.Sprintf("invalid nvmf URI %q: missing host or port", raw))
	}
	nqn := strings.TrimPrefix(u.Path, "/")
	if idx := strings.Index(nqn, "/"); idx >= 0 {
		nqn = nqn[:idx]
	}
	if nqn == "" {
		return ParsedURI{}, nexuserrors.New(nexuserrors.KindInvalidInput, fmt.Sprintf("invalid nvmf URI %q: missing nqn path segment", raw))
	}
	uuid, err := deriveUUID(nqn)
	if err != nil {
		return ParsedURI{}, err
	}
	return ParsedURI{Host: host, Port: port, NQN: nqn, UUID: uuid}, nil
}

// deriveUUID takes the last five hyphen-delimited fragments of the NQN,
// the canonical 8-4-4-4-12 form embedded in its tail.
func deriveUUID(nqn string) (string, error) {
	parts := strings.Split(nqn, "-")
	if len(parts) < 5 {
		return "", nexuserrors.New(nexuserrors.KindInvalidInput, fmt.Sprintf("nqn %q does not embed a uuid tail", nqn))
	}
	return strings.Join(parts[len(parts)-5:], "-"), nil
}

const (
	expectedModel     = "Mayastor NVMe controller"
	expectedSubsystem = "block"
)

func matches(d BlockDevice, expectedUUID string) bool {
	return d.Subsys == expectedSubsystem &&
		d.IDModel == expectedModel &&
		strings.Contains(d.IDWWN, "uuid."+expectedUUID)
}

func (h *Helper) findLocal(ctx context.Context, expectedUUID string) (string, error) {
	devices, err := h.enumerator.Enumerate(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if matches(d, expectedUUID) {
			return d.DevName, nil
		}
	}
	return "", nexuserrors.ErrDeviceNotFound
}

// Attach parses uri, tries local enumeration once, then invokes the OS
// connect primitive and polls once a second for up to 10 seconds for a
// matching device to appear.
func (h *Helper) Attach(ctx context.Context, uri string) (string, error) {
	start := time.Now()
	defer func() { metrics.InitiatorAttachDuration.Observe(time.Since(start).Seconds()) }()

	parsed, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	if path, err := h.findLocal(ctx, parsed.UUID); err == nil {
		klog.V(4).Infof("attach: device for uuid %s already present at %s", parsed.UUID, path)
		return path, nil
	}

	errno, err := h.connector.Connect(ctx, parsed.Host, parsed.Port, parsed.NQN)
	if err != nil && errno != ealreadyErrno {
		return "", nexuserrors.Wrap(nexuserrors.KindTransport, "nvme-of connect failed", err)
	}
	if errno == ealreadyErrno {
		klog.V(4).Infof("attach: connect to %s already in progress (EALREADY), continuing to poll", parsed.NQN)
	}

	deadline := time.Now().Add(pollBudget)
	for {
		path, err := h.findLocal(ctx, parsed.UUID)
		if err == nil {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", nexuserrors.ErrDeviceNotFound
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Detach derives the nexus NQN for uuid and invokes the OS disconnect
// primitive. Zero matched devices is NotFound; more than one is a
// success with a logged warning rather than an error.
func (h *Helper) Detach(ctx context.Context, uuid string) error {
	nqn := "nqn.2019-05.io.openebs:nexus-" + uuid
	matched, err := h.connector.Disconnect(ctx, nqn)
	if err != nil {
		return nexuserrors.Wrap(nexuserrors.KindTransport, "nvme-of disconnect failed", err)
	}
	switch {
	case matched == 0:
		return nexuserrors.ErrDeviceNotFound
	case matched > 1:
		klog.Warningf("detach: disconnect for %s matched %d devices, expected 1", nqn, matched)
	}
	return nil
}

// ListAttached enumerates locally attached devices whose model identifies
// them as nexus exports, grounded in the original nvmfutil.rs helper that
// backs the CSI node plugin's discovery path.
func (h *Helper) ListAttached(ctx context.Context) ([]BlockDevice, error) {
	devices, err := h.enumerator.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BlockDevice, 0, len(devices))
	for _, d := range devices {
		if d.Subsys == expectedSubsystem && d.IDModel == expectedModel {
			out = append(out, d)
		}
	}
	return out, nil
}

// RetryingConnector wraps a Connector with the same exponential backoff
// policy the CSI node agent uses for nvme connect retries.
type RetryingConnector struct {
	Inner Connector
	Cfg   retry.Config
}

func (c RetryingConnector) Connect(ctx context.Context, host, port, nqn string) (int, error) {
	type result struct {
		errno int
	}
	res, err := retry.WithRetry(ctx, c.Cfg, func() (result, error) {
		errno, err := c.Inner.Connect(ctx, host, port, nqn)
		if err != nil && errno != ealreadyErrno {
			return result{}, err
		}
		return result{errno: errno}, nil
	})
	return res.errno, err
}

func (c RetryingConnector) Disconnect(ctx context.Context, nqn string) (int, error) {
	return c.Inner.Disconnect(ctx, nqn)
}
