package infra

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nsboot/nsboot"
)

// Fake is an in-memory implementation of every boundary interface. It backs
// the engine and API tests and doubles as a dry-run backend.
type Fake struct {
	mu sync.Mutex

	Pool      nsboot.PoolStats
	volumes   map[string]uint64
	snapshots map[string]bool   // volume@snap
	clones    map[string]string // clone volume -> origin volume@snap
	bindings  map[string]Binding
	online    map[string]bool // ip -> reachable
	services  map[string]nsboot.Service
	configs   map[string]string

	// Failure injection, checked before the corresponding call mutates
	// anything.
	CloneErr  error
	BindErr   error
	VolumeErr error

	Woken    []string
	Rebooted []string
	Downed   []string
}

func NewFake() *Fake {
	return &Fake{
		Pool:      nsboot.PoolStats{Name: "nsboot0", Size: 500 << 30, Used: 50 << 30, Available: 450 << 30},
		volumes:   map[string]uint64{},
		snapshots: map[string]bool{},
		clones:    map[string]string{},
		bindings:  map[string]Binding{},
		online:    map[string]bool{},
		services: map[string]nsboot.Service{
			"dhcp":  {Key: "dhcp", Name: "isc-dhcp-server", Unit: "isc-dhcp-server.service", Status: "active", Installed: true},
			"tftp":  {Key: "tftp", Name: "tftpd-hpa", Unit: "tftpd-hpa.service", Status: "active", Installed: true},
			"iscsi": {Key: "iscsi", Name: "target", Unit: "target.service", Status: "active", Installed: true},
			"zfs":   {Key: "zfs", Name: "ZFS Pool (nsboot0)", Status: "active", Installed: true, Foundational: true},
		},
		configs: map[string]string{
			"dhcp": "subnet 10.0.0.0 netmask 255.255.255.0 {}\n",
			"tftp": "TFTP_DIRECTORY=\"/srv/tftp\"\n",
		},
	}
}

func (f *Fake) CreateVolume(_ context.Context, name string, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.VolumeErr != nil {
		return f.VolumeErr
	}
	if _, ok := f.volumes[name]; ok {
		return fmt.Errorf("volume %s already exists", name)
	}
	f.volumes[name] = size
	return nil
}

func (f *Fake) DestroyVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	delete(f.clones, name)
	for snap := range f.snapshots {
		if strings.HasPrefix(snap, name+"@") {
			delete(f.snapshots, snap)
		}
	}
	return nil
}

func (f *Fake) Snapshot(_ context.Context, volume, snap string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := volume + "@" + snap
	if f.snapshots[key] {
		return fmt.Errorf("snapshot %s already exists", key)
	}
	f.snapshots[key] = true
	return nil
}

func (f *Fake) DestroySnapshot(_ context.Context, volume, snap string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := volume + "@" + snap
	for _, origin := range f.clones {
		if origin == key {
			return fmt.Errorf("snapshot %s has dependent clones", key)
		}
	}
	delete(f.snapshots, key)
	return nil
}

func (f *Fake) Clone(_ context.Context, volume, snap, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CloneErr != nil {
		return "", f.CloneErr
	}
	key := volume + "@" + snap
	if !f.snapshots[key] {
		return "", fmt.Errorf("snapshot %s does not exist", key)
	}
	f.volumes[target] = 0
	f.clones[target] = key
	return "/dev/zvol/" + target, nil
}

func (f *Fake) SnapshotUsed(_ context.Context, volume, snap string) (uint64, error) {
	return 8 << 20, nil
}

func (f *Fake) PoolStats(_ context.Context) (nsboot.PoolStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pool, nil
}

func (f *Fake) PoolExists(_ context.Context, name string) (bool, error) {
	return name == f.Pool.Name, nil
}

func (f *Fake) CreatePool(_ context.Context, name, disk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pool = nsboot.PoolStats{Name: name, Size: 500 << 30, Available: 500 << 30}
	return nil
}

// HasVolume reports whether a volume or clone by that name exists. Test
// helper for rollback assertions.
func (f *Fake) HasVolume(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[name]
	return ok
}

func (f *Fake) HasSnapshot(volume, snap string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[volume+"@"+snap]
}

func (f *Fake) Bind(_ context.Context, b Binding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BindErr != nil {
		return f.BindErr
	}
	f.bindings[b.ClientID] = b
	return nil
}

func (f *Fake) Unbind(_ context.Context, b Binding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bindings, b.ClientID)
	return nil
}

func (f *Fake) HasBinding(clientID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bindings[clientID]
	return ok
}

func (f *Fake) SetOnline(ip string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[ip] = online
}

func (f *Fake) Wake(_ context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Woken = append(f.Woken, mac)
	return nil
}

func (f *Fake) Reboot(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rebooted = append(f.Rebooted, ip)
	return nil
}

func (f *Fake) Shutdown(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Downed = append(f.Downed, ip)
	return nil
}

func (f *Fake) Probe(_ context.Context, ip string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[ip], nil
}

func (f *Fake) List(_ context.Context) (map[string]nsboot.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]nsboot.Service{}
	for k, v := range f.services {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) Status(_ context.Context, key string) (nsboot.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[key]
	if !ok {
		return nsboot.Service{}, nsboot.Errorf(nsboot.ErrNotFound, "unknown service key: %s", key)
	}
	return svc, nil
}

func (f *Fake) Control(_ context.Context, key string, action nsboot.ServiceAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[key]
	if !ok {
		return nsboot.Errorf(nsboot.ErrNotFound, "unknown service key: %s", key)
	}
	switch action {
	case nsboot.ServiceStart, nsboot.ServiceRestart:
		svc.Status = "active"
	case nsboot.ServiceStop:
		svc.Status = "inactive"
	}
	f.services[key] = svc
	return nil
}

func (f *Fake) ReadConfig(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.configs[key]
	if !ok {
		return "", nsboot.Errorf(nsboot.ErrNotFound, "unknown service key: %s", key)
	}
	return content, nil
}

func (f *Fake) WriteConfig(_ context.Context, key, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(content) == "" {
		return nsboot.Errorf(nsboot.ErrValidation, "configuration for %s failed its syntax check", key)
	}
	f.configs[key] = content
	return nil
}

func (f *Fake) Install(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[key]
	if !ok {
		return nsboot.Errorf(nsboot.ErrNotFound, "unknown service key: %s", key)
	}
	svc.Installed = true
	f.services[key] = svc
	return nil
}

func (f *Fake) ListDisks(_ context.Context) ([]nsboot.Disk, error) {
	return []nsboot.Disk{{Name: "sdb", Size: "500G", Model: "FAKE-DISK"}}, nil
}

func (f *Fake) DropCaches(_ context.Context) error {
	return nil
}
