package initiator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"
)

// SysfsEnumerator enumerates NVMe block devices by walking
// /sys/class/nvme, the same fallback fenio-tns-csi's
// findNVMeDeviceByNQNFromSys uses when `nvme list-subsys` parsing fails,
// promoted here to the primary (only) enumeration strategy since this
// helper never needs the nvme-cli JSON form.
type SysfsEnumerator struct {
	// SysClassNVMe is overridable in tests; defaults to /sys/class/nvme.
	SysClassNVMe string
}

func NewSysfsEnumerator() *SysfsEnumerator {
	return &SysfsEnumerator{SysClassNVMe: "/sys/class/nvme"}
}

func (e *SysfsEnumerator) Enumerate(ctx context.Context) ([]BlockDevice, error) {
	root := e.SysClassNVMe
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var out []BlockDevice
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, "nvme") || strings.Contains(name, "-") {
			continue
		}
		nsDirs, err := filepath.Glob(filepath.Join(root, name, name+"n*"))
		if err != nil {
			continue
		}
		for _, nsDir := range nsDirs {
			devName := filepath.Base(nsDir)
			if strings.Contains(devName, "p") {
				continue // skip partitions, e.g. nvme0n1p1
			}
			out = append(out, e.describe(devName))
		}
	}
	return out, nil
}

func (e *SysfsEnumerator) describe(devName string) BlockDevice {
	udevCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(udevCtx, "udevadm", "info", "--query=property", "--name="+devName)
	output, err := cmd.Output()
	if err != nil {
		klog.V(4).Infof("udevadm info for %s failed: %v", devName, err)
		return BlockDevice{DevName: "/dev/" + devName}
	}
	d := BlockDevice{DevName: "/dev/" + devName, Subsys: "block"}
	return d.mergeProperties(output)
}

// mergeProperties overlays udevadm's ID_MODEL/ID_WWN/SUBSYSTEM/DEVNAME
// properties onto a BlockDevice, keeping describe itself readable.
func (d BlockDevice) mergeProperties(output []byte) BlockDevice {
	props := parseUdevProperties(output)
	d.IDModel = props["ID_MODEL"]
	d.IDWWN = props["ID_WWN"]
	if sub, ok := props["SUBSYSTEM"]; ok {
		d.Subsys = sub
	}
	if name, ok := props["DEVNAME"]; ok {
		d.DevName = name
	}
	return d
}

func parseUdevProperties(output []byte) map[string]string {
	props := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[k] = v
	}
	return props
}

// NVMeCLIConnector issues nvme-cli connect/disconnect, the same primitives
// fenio-tns-csi's attemptNVMeConnect/disconnectNVMeOF shell out to.
type NVMeCLIConnector struct {
	Transport string // "tcp"
}

func NewNVMeCLIConnector() *NVMeCLIConnector {
	return &NVMeCLIConnector{Transport: "tcp"}
}

func (c *NVMeCLIConnector) Connect(ctx context.Context, host, port, nqn string) (int, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	//nolint:gosec // host/port/nqn originate from a parsed attach URI, not untrusted shell input
	cmd := exec.CommandContext(connectCtx, "nvme", "connect",
		"-t", c.Transport, "-a", host, "-s", port, "-n", nqn)
	if err := cmd.Run(); err != nil {
		return exitErrno(err), err
	}
	return 0, nil
}

func (c *NVMeCLIConnector) Disconnect(ctx context.Context, nqn string) (int, error) {
	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(disconnectCtx, "nvme", "disconnect", "-n", nqn)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "No subsystems") || strings.Contains(string(output), "not found") {
			return 0, nil
		}
		return 0, fmt.Errorf("nvme disconnect: %w, output: %s", err, string(output))
	}
	return countDisconnected(string(output)), nil
}

func countDisconnected(output string) int {
	n, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func exitErrno(err error) int {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}
