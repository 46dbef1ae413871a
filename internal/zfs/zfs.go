// Package zfs implements the volume boundary on go-libzfs. Masters are
// zvols, clients boot from clones of their snapshots. All names coming in
// are pool relative, qualification happens here.
package zfs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	zfs "github.com/bicomsystems/go-libzfs"

	"github.com/nsboot/nsboot"
)

func NewZFS(pool string) *ZFS {
	return &ZFS{pool: pool}
}

type ZFS struct {
	pool string
}

func (z *ZFS) path(name string) string {
	return fmt.Sprintf("%s/%s", z.pool, name)
}

func (z *ZFS) CreateVolume(ctx context.Context, name string, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	props := map[zfs.Prop]zfs.Property{
		zfs.DatasetPropVolsize:      {Value: strconv.FormatUint(size, 10)},
		zfs.DatasetPropVolblocksize: {Value: "8192"},
	}
	ds, err := zfs.DatasetCreate(z.path(name), zfs.DatasetTypeVolume, props)
	if err != nil {
		return fmt.Errorf("could not create volume %s: %w", name, err)
	}
	defer ds.Close()
	return nil
}

func (z *ZFS) DestroyVolume(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return z.destroyRec(z.path(name))
}

// destroyRec tears down a dataset with its snapshots and dependent clones,
// deepest first.
func (z *ZFS) destroyRec(path string) error {
	ds, err := zfs.DatasetOpen(path)
	if err != nil {
		return nil
	}
	defer ds.Close()

	clones, err := ds.Clones()
	if err != nil {
		return fmt.Errorf("could not list clones of %s: %w", path, err)
	}
	for _, c := range clones {
		if err := z.destroyRec(c); err != nil {
			return err
		}
	}
	for _, c := range ds.Children {
		p, err := c.Path()
		if err != nil {
			return fmt.Errorf("could not get child path of %s: %w", path, err)
		}
		if err := z.destroyRec(p); err != nil {
			return err
		}
	}

	ds.Close()
	ds, err = zfs.DatasetOpen(path)
	if err != nil {
		return fmt.Errorf("could not reopen %s: %w", path, err)
	}
	if err := ds.Destroy(false); err != nil {
		return fmt.Errorf("could not destroy %s: %w", path, err)
	}
	return nil
}

func (z *ZFS) Snapshot(ctx context.Context, volume, snap string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ds, err := zfs.DatasetSnapshot(fmt.Sprintf("%s@%s", z.path(volume), snap), false, nil)
	if err != nil {
		return fmt.Errorf("could not snapshot %s@%s: %w", volume, snap, err)
	}
	defer ds.Close()
	return nil
}

func (z *ZFS) DestroySnapshot(ctx context.Context, volume, snap string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := fmt.Sprintf("%s@%s", z.path(volume), snap)
	ds, err := zfs.DatasetOpen(path)
	if err != nil {
		return fmt.Errorf("could not open snapshot %s: %w", path, err)
	}
	defer ds.Close()
	clones, err := ds.Clones()
	if err == nil && len(clones) > 0 {
		return fmt.Errorf("snapshot %s has dependent clones", path)
	}
	if err := ds.Destroy(false); err != nil {
		return fmt.Errorf("could not destroy snapshot %s: %w", path, err)
	}
	return nil
}

func (z *ZFS) Clone(ctx context.Context, volume, snap, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ds, err := zfs.DatasetOpen(z.path(volume))
	if err != nil {
		return "", fmt.Errorf("could not open volume %s: %w", volume, err)
	}
	defer ds.Close()

	ok, origin := ds.FindSnapshotName("@" + snap)
	if !ok {
		return "", errors.New("could not find snapshot to clone")
	}
	clone, err := origin.Clone(z.path(target), nil)
	if err != nil {
		return "", fmt.Errorf("could not clone %s@%s: %w", volume, snap, err)
	}
	defer clone.Close()
	return fmt.Sprintf("/dev/zvol/%s", z.path(target)), nil
}

func (z *ZFS) SnapshotUsed(ctx context.Context, volume, snap string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ds, err := zfs.DatasetOpen(fmt.Sprintf("%s@%s", z.path(volume), snap))
	if err != nil {
		return 0, err
	}
	defer ds.Close()
	prop, err := ds.GetProperty(zfs.DatasetPropUsed)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(prop.Value, 10, 64)
}

func (z *ZFS) PoolStats(ctx context.Context) (nsboot.PoolStats, error) {
	if err := ctx.Err(); err != nil {
		return nsboot.PoolStats{}, err
	}
	p, err := zfs.PoolOpen(z.pool)
	if err != nil {
		return nsboot.PoolStats{}, fmt.Errorf("could not open pool %s: %w", z.pool, err)
	}
	defer p.Close()
	vt, err := p.VDevTree()
	if err != nil {
		return nsboot.PoolStats{}, err
	}
	return nsboot.PoolStats{
		Name:      z.pool,
		Size:      vt.Stat.Space,
		Used:      vt.Stat.Alloc,
		Available: vt.Stat.Space - vt.Stat.Alloc,
	}, nil
}

func (z *ZFS) PoolExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := zfs.PoolOpen(name)
	if err != nil {
		return false, nil
	}
	p.Close()
	return true, nil
}

func (z *ZFS) CreatePool(ctx context.Context, name, disk string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vdev := zfs.VDevTree{
		Type: zfs.VDevTypeRoot,
		Devices: []zfs.VDevTree{
			{Type: zfs.VDevTypeDisk, Path: "/dev/" + disk},
		},
	}
	p, err := zfs.PoolCreate(name, vdev, nil, zfs.PoolProperties{}, zfs.DatasetProperties{})
	if err != nil {
		return fmt.Errorf("could not create pool %s on /dev/%s: %w", name, disk, err)
	}
	defer p.Close()
	return nil
}
