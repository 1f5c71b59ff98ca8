package host

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Telemetry is a snapshot of the host's identity and resources.
type Telemetry struct {
	Hostname   string      `json:"hostname"`
	OS         OS          `json:"os"`
	CPU        CPU         `json:"cpu"`
	MemoryKB   uint64      `json:"memory_kb"`
	Mounts     []FsMount   `json:"mounts,omitempty"`
	Interfaces []Interface `json:"interfaces,omitempty"`
}

type OS struct {
	Family   string `json:"family"`   // e.g. "linux", "darwin"
	Platform string `json:"platform"` // e.g. "ubuntu", "centos"
	Version  string `json:"version"`
	Arch     string `json:"arch"`
}

type CPU struct {
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
	Cores  int    `json:"cores"`
}

type FsMount struct {
	Filesystem string `json:"filesystem"`
	Mountpoint string `json:"mountpoint"`
	FsType     string `json:"fstype"`
}

type Interface struct {
	Name  string   `json:"name"`
	MAC   string   `json:"mac,omitempty"`
	Addrs []string `json:"addrs,omitempty"`
}

// TelemetryArgs is empty; TelemetryLoad takes no arguments.
type TelemetryArgs struct{}

// TelemetryLoad collects the host snapshot. Sources that are missing on a
// given platform (e.g. /proc on non-Linux) degrade to zero values rather
// than failing the whole snapshot; only a total inability to identify the
// host is an error.
func (h *Host) TelemetryLoad(ctx context.Context, _ TelemetryArgs) (Telemetry, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Telemetry{}, fmt.Errorf("hostname: %w", err)
	}

	t := Telemetry{
		Hostname: hostname,
		OS: OS{
			Family: runtime.GOOS,
			Arch:   runtime.GOARCH,
		},
		CPU: CPU{Cores: runtime.NumCPU()},
	}

	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		platform, version := parseOSRelease(string(data))
		t.OS.Platform = platform
		t.OS.Version = version
	}
	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		t.CPU.Vendor, t.CPU.Model = parseCPUInfo(string(data))
	}
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		t.MemoryKB = parseMemTotal(string(data))
	}
	if data, err := os.ReadFile("/proc/mounts"); err == nil {
		t.Mounts = parseMounts(string(data))
	}

	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			entry := Interface{Name: iface.Name, MAC: iface.HardwareAddr.String()}
			if addrs, err := iface.Addrs(); err == nil {
				for _, addr := range addrs {
					entry.Addrs = append(entry.Addrs, addr.String())
				}
			}
			t.Interfaces = append(t.Interfaces, entry)
		}
	}

	return t, nil
}

// parseOSRelease extracts ID and VERSION_ID from os-release(5) content.
func parseOSRelease(data string) (platform, version string) {
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "ID":
			platform = value
		case "VERSION_ID":
			version = value
		}
	}
	return platform, version
}

// parseCPUInfo extracts the vendor and model of the first processor entry
// in /proc/cpuinfo.
func parseCPUInfo(data string) (vendor, model string) {
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "vendor_id":
			if vendor == "" {
				vendor = value
			}
		case "model name":
			if model == "" {
				model = value
			}
		}
		if vendor != "" && model != "" {
			break
		}
	}
	return vendor, model
}

// parseMemTotal extracts MemTotal (in KiB) from /proc/meminfo.
func parseMemTotal(data string) uint64 {
	for _, line := range strings.Split(data, "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb
	}
	return 0
}

// parseMounts lists real mounts from /proc/mounts, skipping pseudo
// filesystems that carry no capacity.
func parseMounts(data string) []FsMount {
	pseudo := map[string]bool{
		"proc": true, "sysfs": true, "devtmpfs": true, "devpts": true,
		"tmpfs": true, "cgroup": true, "cgroup2": true, "securityfs": true,
		"debugfs": true, "tracefs": true, "fusectl": true, "configfs": true,
		"pstore": true, "bpf": true, "mqueue": true, "hugetlbfs": true,
		"autofs": true, "binfmt_misc": true,
	}
	var mounts []FsMount
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || pseudo[fields[2]] {
			continue
		}
		mounts = append(mounts, FsMount{
			Filesystem: fields[0],
			Mountpoint: fields[1],
			FsType:     fields[2],
		})
	}
	return mounts
}
