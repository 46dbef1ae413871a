// Package services observes and controls the daemons the boot pipeline
// depends on. The catalog maps stable keys to systemd units and config
// files; it is loadable from yaml so deployments can adjust unit names.
package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nsboot/nsboot"
)

type Entry struct {
	Name    string `yaml:"name"`
	Unit    string `yaml:"unit"`
	Config  string `yaml:"config"`
	Package string `yaml:"package"`
	Binary  string `yaml:"binary"`
	// Check is run with the candidate file appended to syntax-check a
	// config before it is written, e.g. ["dhcpd", "-t", "-cf"].
	Check []string `yaml:"check"`
	// Foundational services cannot be stopped, everything depends on them.
	Foundational bool `yaml:"foundational"`
}

type Catalog struct {
	Services map[string]Entry `yaml:"services"`
}

// DefaultCatalog matches a stock Debian/Ubuntu diskless host.
func DefaultCatalog(pool, dhcpConf, tftpConf, iscsiConf string) Catalog {
	return Catalog{Services: map[string]Entry{
		"dhcp":  {Name: "isc-dhcp-server", Unit: "isc-dhcp-server.service", Config: dhcpConf, Package: "isc-dhcp-server", Binary: "dhcpd", Check: []string{"dhcpd", "-t", "-cf"}},
		"tftp":  {Name: "tftpd-hpa", Unit: "tftpd-hpa.service", Config: tftpConf, Package: "tftpd-hpa", Binary: "in.tftpd"},
		"iscsi": {Name: "target", Unit: "target.service", Config: iscsiConf, Package: "targetcli-fb", Binary: "targetcli"},
		"http":  {Name: "apache2", Unit: "apache2.service", Config: "/etc/apache2/sites-available/000-default.conf", Package: "apache2", Binary: "apache2"},
		"share": {Name: "smbd", Unit: "smbd.service", Config: "/etc/samba/smb.conf", Package: "samba", Binary: "smbd", Check: []string{"testparm", "-s"}},
		"zfs":   {Name: fmt.Sprintf("ZFS Pool (%s)", pool), Package: "zfsutils-linux", Binary: "zfs", Foundational: true},
	}}
}

// LoadCatalog reads a yaml catalog, falling back to fallback when the file
// does not exist.
func LoadCatalog(path string, fallback Catalog) (Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fallback, nil
	}
	if err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("could not parse service catalog %s: %w", path, err)
	}
	return c, nil
}

type Manager struct {
	catalog Catalog
	pool    string
}

func NewManager(catalog Catalog, pool string) *Manager {
	return &Manager{catalog: catalog, pool: pool}
}

func (m *Manager) entry(key string) (Entry, error) {
	e, ok := m.catalog.Services[key]
	if !ok {
		return Entry{}, nsboot.Errorf(nsboot.ErrNotFound, "unknown service key: %s", key)
	}
	return e, nil
}

func (m *Manager) Status(ctx context.Context, key string) (nsboot.Service, error) {
	e, err := m.entry(key)
	if err != nil {
		return nsboot.Service{}, err
	}
	svc := nsboot.Service{
		Key:          key,
		Name:         e.Name,
		Unit:         e.Unit,
		Foundational: e.Foundational,
		Installed:    installed(e.Binary),
	}
	if key == "zfs" {
		svc.Status = m.poolStatus(ctx)
		return svc, nil
	}
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", e.Unit).Output()
	status := strings.TrimSpace(string(out))
	if err != nil && status == "" {
		status = "inactive"
	}
	svc.Status = status
	return svc, nil
}

func (m *Manager) poolStatus(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "sudo", "zpool", "status", m.pool).Output()
	if err != nil {
		return "error"
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "state:") {
			if strings.TrimSpace(strings.TrimPrefix(line, "state:")) == "ONLINE" {
				return "active"
			}
			return "degraded"
		}
	}
	return "error"
}

func installed(binary string) bool {
	if binary == "" {
		return false
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

func (m *Manager) List(ctx context.Context) (map[string]nsboot.Service, error) {
	out := map[string]nsboot.Service{}
	for key := range m.catalog.Services {
		svc, err := m.Status(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = svc
	}
	return out, nil
}

func (m *Manager) Control(ctx context.Context, key string, action nsboot.ServiceAction) error {
	e, err := m.entry(key)
	if err != nil {
		return err
	}
	if e.Unit == "" {
		return nsboot.Errorf(nsboot.ErrUnsupported, "service %q has no controllable unit", key)
	}
	cmd := exec.CommandContext(ctx, "sudo", "systemctl", string(action), e.Unit)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl %s %s failed: %v, %s", action, e.Unit, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *Manager) ReadConfig(ctx context.Context, key string) (string, error) {
	if key == "zfs" {
		return m.zfsOverview(ctx)
	}
	e, err := m.entry(key)
	if err != nil {
		return "", err
	}
	if e.Config == "" {
		return "", nsboot.Errorf(nsboot.ErrNotFound, "service %q has no configuration file", key)
	}
	data, err := os.ReadFile(e.Config)
	if err != nil {
		return "", fmt.Errorf("could not read %s: %w", e.Config, err)
	}
	return string(data), nil
}

func (m *Manager) zfsOverview(ctx context.Context) (string, error) {
	status, err := exec.CommandContext(ctx, "sudo", "zpool", "status").Output()
	if err != nil {
		return "", fmt.Errorf("could not run zpool status: %w", err)
	}
	list, err := exec.CommandContext(ctx, "sudo", "zfs", "list", "-t", "all", "-o", "name,type,used,avail,refer,mountpoint").Output()
	if err != nil {
		return "", fmt.Errorf("could not run zfs list: %w", err)
	}
	return fmt.Sprintf("=== ZFS Pool Status ===\n%s\n\n=== ZFS Datasets ===\n%s", status, list), nil
}

// WriteConfig syntax-checks the content with the service's own checker
// before replacing the file. It does not restart anything.
func (m *Manager) WriteConfig(ctx context.Context, key, content string) error {
	e, err := m.entry(key)
	if err != nil {
		return err
	}
	if e.Config == "" {
		return nsboot.Errorf(nsboot.ErrUnsupported, "service %q has no writable configuration", key)
	}
	if strings.TrimSpace(content) == "" {
		return nsboot.Errorf(nsboot.ErrValidation, "configuration for %s must not be empty", key)
	}
	if len(e.Check) > 0 {
		tmp, err := os.CreateTemp("", "nsboot-conf-*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.WriteString(content); err != nil {
			tmp.Close()
			return err
		}
		tmp.Close()
		args := append(append([]string{}, e.Check...), tmp.Name())
		if out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput(); err != nil {
			return nsboot.Errorf(nsboot.ErrValidation, "configuration for %s failed its syntax check: %s", key, strings.TrimSpace(string(out)))
		}
	}
	if err := os.WriteFile(e.Config, []byte(content), 0644); err != nil {
		return fmt.Errorf("could not write %s: %w", e.Config, err)
	}
	return nil
}

func (m *Manager) Install(ctx context.Context, key string) error {
	e, err := m.entry(key)
	if err != nil {
		return err
	}
	if e.Package == "" {
		return nsboot.Errorf(nsboot.ErrUnsupported, "service %q has no installable package", key)
	}
	cmd := exec.CommandContext(ctx, "sudo", "apt-get", "install", "-y", e.Package)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("could not install %s: %v, %s", e.Package, err, strings.TrimSpace(string(out)))
	}
	return nil
}
