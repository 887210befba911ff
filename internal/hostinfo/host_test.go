package hostinfo

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %s", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
}

func fixtureCollector(t *testing.T) Collector {
	t.Helper()
	dir := t.TempDir()
	return Collector{
		ProcRoot: filepath.Join(dir, "proc"),
		EtcRoot:  filepath.Join(dir, "etc"),
	}
}

func TestCollectReadsFixtureRoots(t *testing.T) {
	c := fixtureCollector(t)
	writeFixture(t, filepath.Join(c.EtcRoot, "os-release"),
		"NAME=\"Debian GNU/Linux\"\nID=debian\nVERSION_ID=\"12\"\n")
	writeFixture(t, filepath.Join(c.ProcRoot, "sys", "kernel", "osrelease"), "6.1.0-18-amd64\n")
	writeFixture(t, filepath.Join(c.EtcRoot, "machine-id"), "abc123xyz\n")

	info := c.Collect()
	if info.OS != "debian 12" {
		t.Fatalf("OS = %q; want %q", info.OS, "debian 12")
	}
	if info.Kernel != "6.1.0-18-amd64" {
		t.Fatalf("Kernel = %q; want %q", info.Kernel, "6.1.0-18-amd64")
	}
	if info.MachineID != "abc123xyz" {
		t.Fatalf("MachineID = %q; want %q", info.MachineID, "abc123xyz")
	}
	if info.CPUCount < 1 {
		t.Fatalf("CPUCount = %d; want at least 1", info.CPUCount)
	}
	if info.Arch == "" || info.Arch == Unknown {
		t.Fatalf("Arch = %q; want a real uname machine string", info.Arch)
	}
}

func TestCollectMissingFilesFallBackToUnknown(t *testing.T) {
	info := fixtureCollector(t).Collect()
	if info.OS != Unknown {
		t.Fatalf("OS = %q; want %q with no os-release", info.OS, Unknown)
	}
	if info.Kernel != Unknown {
		t.Fatalf("Kernel = %q; want %q with no proc root", info.Kernel, Unknown)
	}
	if info.MachineID != Unknown {
		t.Fatalf("MachineID = %q; want %q with no machine-id", info.MachineID, Unknown)
	}
}

func TestOSReleaseWithoutVersionID(t *testing.T) {
	c := fixtureCollector(t)
	writeFixture(t, filepath.Join(c.EtcRoot, "os-release"), "ID=arch\n")
	if got := c.Collect().OS; got != "arch" {
		t.Fatalf("OS = %q; want %q when VERSION_ID is absent", got, "arch")
	}
}

func TestEmptyMachineIDIsUnknown(t *testing.T) {
	c := fixtureCollector(t)
	writeFixture(t, filepath.Join(c.EtcRoot, "machine-id"), "\n")
	if got := c.Collect().MachineID; got != Unknown {
		t.Fatalf("MachineID = %q; want %q for an empty machine-id file", got, Unknown)
	}
}
