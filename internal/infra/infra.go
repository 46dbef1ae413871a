// Package infra is the boundary between the provisioning engine and the
// machinery underneath it: ZFS volumes, the network-boot plumbing, client
// power control and the systemd services. The engine only ever sees these
// interfaces, so everything behind them stays swappable and testable.
package infra

import (
	"context"

	"github.com/nsboot/nsboot"
)

// Binding is everything the boot pipeline needs to serve one client: its
// DHCP host entry and the iSCSI target its clone is exported through.
type Binding struct {
	ClientID   string
	Name       string
	MAC        string
	IP         string
	TargetIQN  string
	BlockStore string
	Device     string
}

// Volumes manages the storage pool. Volume and snapshot names are the
// qualified infrastructure names, the engine derives them from record names.
type Volumes interface {
	CreateVolume(ctx context.Context, name string, size uint64) error
	DestroyVolume(ctx context.Context, name string) error
	Snapshot(ctx context.Context, volume, snap string) error
	DestroySnapshot(ctx context.Context, volume, snap string) error
	// Clone creates a writable volume from volume@snap and returns the
	// block device path backing it.
	Clone(ctx context.Context, volume, snap, target string) (string, error)
	SnapshotUsed(ctx context.Context, volume, snap string) (uint64, error)
	PoolStats(ctx context.Context) (nsboot.PoolStats, error)
	PoolExists(ctx context.Context, name string) (bool, error)
	CreatePool(ctx context.Context, name, disk string) error
}

type Netboot interface {
	Bind(ctx context.Context, b Binding) error
	Unbind(ctx context.Context, b Binding) error
}

// Power is fire-and-forget: a nil return means the signal went out, not
// that the machine changed state. The poller observes the outcome.
type Power interface {
	Wake(ctx context.Context, mac string) error
	Reboot(ctx context.Context, ip string) error
	Shutdown(ctx context.Context, ip string) error
	Probe(ctx context.Context, ip string) (bool, error)
}

type ServiceManager interface {
	List(ctx context.Context) (map[string]nsboot.Service, error)
	Status(ctx context.Context, key string) (nsboot.Service, error)
	Control(ctx context.Context, key string, action nsboot.ServiceAction) error
	ReadConfig(ctx context.Context, key string) (string, error)
	WriteConfig(ctx context.Context, key, content string) error
	Install(ctx context.Context, key string) error
}

type System interface {
	ListDisks(ctx context.Context) ([]nsboot.Disk, error)
	DropCaches(ctx context.Context) error
}
