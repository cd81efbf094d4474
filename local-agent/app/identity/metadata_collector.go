package identity

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Metadata represents host metadata reported at registration
type Metadata struct {
	OSName    string `json:"os_name,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
	Arch      string `json:"arch,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

// Collector collects host metadata
type Collector struct{}

// NewCollector creates a new metadata collector
func NewCollector() *Collector {
	return &Collector{}
}

// Collect collects host metadata. Missing pieces are left empty.
func (c *Collector) Collect() *Metadata {
	metadata := &Metadata{
		OSName: runtime.GOOS,
		Arch:   runtime.GOARCH,
	}

	if hostname, err := os.Hostname(); err == nil {
		metadata.Hostname = hostname
	}

	if runtime.GOOS == "linux" {
		if osRelease, err := c.readOSRelease(); err == nil {
			metadata.OSVersion = osRelease
		}
	}

	return metadata
}

// MachineName returns the host name, or "unknown" when it cannot be read
func (m *Metadata) MachineName() string {
	if m.Hostname == "" {
		return "unknown"
	}
	return m.Hostname
}

func (c *Collector) readOSRelease() (string, error) {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\""), nil
		}
	}

	return "", fmt.Errorf("PRETTY_NAME not found")
}
