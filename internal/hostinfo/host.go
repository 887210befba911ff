// Package hostinfo resolves the few facts about the embedding host that the
// boot banner reports before the FAT image is mounted: OS release, kernel
// version, architecture, CPU count, and machine id.
package hostinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// Unknown fills any banner field whose lookup failed; a missing host fact
// never blocks boot.
const Unknown = "unknown"

// Info is the boot banner's view of the host.
type Info struct {
	OS        string
	Kernel    string
	Arch      string
	CPUCount  int
	MachineID string
}

// Collector resolves host facts under configurable roots, so tests can point
// it at fixture directories instead of the live /proc and /etc.
type Collector struct {
	ProcRoot string
	EtcRoot  string
}

// New returns a Collector over the live /proc and /etc.
func New() Collector {
	return Collector{ProcRoot: "/proc", EtcRoot: "/etc"}
}

// Collect gathers every banner fact in one pass.
func (c Collector) Collect() Info {
	return Info{
		OS:        c.osRelease(),
		Kernel:    c.kernelVersion(),
		Arch:      machineArch(),
		CPUCount:  runtime.NumCPU(),
		MachineID: c.machineID(),
	}
}

// osRelease condenses the ID and VERSION_ID keys of os-release (per the
// freedesktop os-release format) into a single "id version" string.
func (c Collector) osRelease() string {
	f, err := os.Open(filepath.Join(c.EtcRoot, "os-release"))
	if err != nil {
		return Unknown
	}
	defer f.Close()

	fields := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		k, v, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		fields[k] = strings.Trim(v, `"`)
	}
	id := fields["ID"]
	if id == "" {
		return Unknown
	}
	if version := fields["VERSION_ID"]; version != "" {
		return id + " " + version
	}
	return id
}

func (c Collector) kernelVersion() string {
	data, err := os.ReadFile(filepath.Join(c.ProcRoot, "sys", "kernel", "osrelease"))
	if err != nil {
		return Unknown
	}
	return strings.TrimSpace(string(data))
}

func (c Collector) machineID() string {
	data, err := os.ReadFile(filepath.Join(c.EtcRoot, "machine-id"))
	if err != nil {
		return Unknown
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return Unknown
	}
	return id
}

// machineArch is uname -m.
func machineArch() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Unknown
	}
	return strings.TrimRight(string(uts.Machine[:]), "\x00")
}
