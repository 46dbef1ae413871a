// Package engine turns validated intents into infrastructure operations and
// store mutations. Conflicting operations on the same named resource are
// serialized through per-resource locks; unrelated resources proceed
// concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/labstack/gommon/log"
	"github.com/modfin/henry/slicez"
	"github.com/nsboot/nsboot"
	"github.com/nsboot/nsboot/internal/infra"
	"github.com/nsboot/nsboot/internal/store"
	"github.com/nsboot/nsboot/internal/validate"
)

type Engine struct {
	store   *store.Store
	vol     infra.Volumes
	net     infra.Netboot
	power   infra.Power
	svc     infra.ServiceManager
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st *store.Store, vol infra.Volumes, net infra.Netboot, power infra.Power, svc infra.ServiceManager, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Engine{
		store:   st,
		vol:     vol,
		net:     net,
		power:   power,
		svc:     svc,
		timeout: timeout,
		locks:   map[string]*sync.Mutex{},
	}
}

// lock serializes operations per resource name. The returned func releases.
func (e *Engine) lock(key string) func() {
	e.mu.Lock()
	m, ok := e.locks[key]
	if !ok {
		m = &sync.Mutex{}
		e.locks[key] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// lockAll acquires the named locks in sorted order, so two operations
// spanning the same resources can never deadlock each other. Released in
// reverse.
func (e *Engine) lockAll(keys ...string) func() {
	keys = slicez.Uniq(keys)
	sort.Strings(keys)
	unlocks := make([]func(), 0, len(keys))
	for _, k := range keys {
		unlocks = append(unlocks, e.lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// lockClient takes the client's lock together with its master's (plus any
// extra keys), so client provisioning is serialized against DeleteMaster
// and DeleteSnapshot on the master it references. The master is read
// before locking, so reread and retry until the reference is stable.
func (e *Engine) lockClient(id string, extra ...string) (nsboot.Client, func(), error) {
	for {
		cur, err := e.store.Client(id)
		if err != nil {
			return nsboot.Client{}, nil, err
		}
		keys := append([]string{"client:" + id, "master:" + cur.Master}, extra...)
		unlock := e.lockAll(keys...)
		check, err := e.store.Client(id)
		if err != nil {
			unlock()
			return nsboot.Client{}, nil, err
		}
		if check.Master == cur.Master {
			return check, unlock, nil
		}
		unlock()
	}
}

func (e *Engine) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// provisionErr maps an infrastructure failure onto the taxonomy. Typed
// errors pass through untouched.
func provisionErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if nsboot.KindOf(err) != "" {
		return err
	}
	detail := fmt.Sprintf(format, args...)
	if errors.Is(err, context.DeadlineExceeded) {
		return nsboot.Errorf(nsboot.ErrProvisioningTimeout, "%s: deadline exceeded, state needs reconciliation", detail)
	}
	return nsboot.Errorf(nsboot.ErrProvisioningFailed, "%s: %v", detail, err)
}

// Derived infrastructure names. Records carry the plain names, the pool
// qualified forms only exist below the Volumes boundary.
func cloneVolume(id string) string { return id + "-disk" }
func directSnap(id string) string { return id + "-base" }
func targetIQN(id string) string { return "iqn.2025-04.com.nsboot:" + strings.ReplaceAll(id, "_", "") }
func blockStore(id string) string { return "block_" + id }

func binding(c nsboot.Client) infra.Binding {
	return infra.Binding{
		ClientID:   c.ID,
		Name:       c.Name,
		MAC:        c.MAC,
		IP:         c.IP,
		TargetIQN:  c.TargetIQN,
		BlockStore: c.BlockStore,
		Device:     c.CloneDevice,
	}
}

func (e *Engine) CreateMaster(ctx context.Context, name, size string) (*nsboot.Master, error) {
	if err := validate.Name(name); err != nil {
		return nil, err
	}
	var bytes datasize.ByteSize
	if err := bytes.UnmarshalText([]byte(strings.TrimSpace(size))); err != nil || bytes == 0 {
		return nil, nsboot.Errorf(nsboot.ErrValidation, "invalid size %q (use e.g. \"50G\")", size)
	}
	defer e.lock("master:" + name)()

	if _, err := e.store.Master(name); err == nil {
		return nil, nsboot.Errorf(nsboot.ErrNameConflict, "master %q already exists", name)
	}

	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	pool, err := e.vol.PoolStats(ctx)
	if err != nil {
		return nil, provisionErr(err, "could not read pool stats")
	}
	if uint64(bytes) > pool.Available {
		return nil, nsboot.Errorf(nsboot.ErrCapacityExceeded, "requested %s but only %s available in pool %s",
			bytes.HR(), datasize.ByteSize(pool.Available).HR(), pool.Name)
	}

	if err := e.vol.CreateVolume(ctx, name, uint64(bytes)); err != nil {
		return nil, provisionErr(err, "could not create volume %s", name)
	}

	m := nsboot.Master{
		Name:      name,
		Size:      strings.ToUpper(strings.TrimSpace(size)),
		CreatedAt: time.Now(),
		Snapshots: []nsboot.Snapshot{},
	}
	if err := e.store.CreateMaster(m); err != nil {
		if derr := e.vol.DestroyVolume(ctx, name); derr != nil {
			log.Errorf("rollback of volume %s failed: %v", name, derr)
		}
		return nil, err
	}
	return &m, nil
}

func (e *Engine) DeleteMaster(ctx context.Context, name string) error {
	defer e.lock("master:" + name)()

	if _, err := e.store.Master(name); err != nil {
		return err
	}
	clients, err := e.store.Clients()
	if err != nil {
		return err
	}
	dependents := slicez.Filter(clients, func(c nsboot.Client) bool {
		return c.Master == name
	})
	if len(dependents) > 0 {
		names := slicez.Map(dependents, func(c nsboot.Client) string { return c.Name })
		return nsboot.Errorf(nsboot.ErrResourceInUse, "master %q is in use by clients: %s", name, strings.Join(names, ", "))
	}

	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.vol.DestroyVolume(ctx, name); err != nil {
		return provisionErr(err, "could not destroy volume %s", name)
	}
	return e.store.DeleteMaster(name)
}

func (e *Engine) SetDefaultMaster(_ context.Context, name string) error {
	return e.store.SetDefaultMaster(name)
}

func (e *Engine) CreateSnapshot(ctx context.Context, masterName, snapName string) (*nsboot.Snapshot, error) {
	if err := validate.Name(snapName); err != nil {
		return nil, err
	}
	defer e.lock("master:" + masterName)()

	m, err := e.store.Master(masterName)
	if err != nil {
		return nil, err
	}
	for _, s := range m.Snapshots {
		if s.Name == snapName {
			return nil, nsboot.Errorf(nsboot.ErrNameConflict, "snapshot %q already exists on master %q", snapName, masterName)
		}
	}

	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.vol.Snapshot(ctx, masterName, snapName); err != nil {
		return nil, provisionErr(err, "could not snapshot %s@%s", masterName, snapName)
	}
	used, err := e.vol.SnapshotUsed(ctx, masterName, snapName)
	if err != nil {
		used = 0
	}
	snap := nsboot.Snapshot{Name: snapName, CreatedAt: time.Now(), Used: used}
	if err := e.store.AddSnapshot(masterName, snap); err != nil {
		if derr := e.vol.DestroySnapshot(ctx, masterName, snapName); derr != nil {
			log.Errorf("rollback of snapshot %s@%s failed: %v", masterName, snapName, derr)
		}
		return nil, err
	}
	return &snap, nil
}

func (e *Engine) DeleteSnapshot(ctx context.Context, masterName, snapName string) error {
	defer e.lock("master:" + masterName)()

	m, err := e.store.Master(masterName)
	if err != nil {
		return err
	}
	found := slicez.Filter(m.Snapshots, func(s nsboot.Snapshot) bool { return s.Name == snapName })
	if len(found) == 0 {
		return nsboot.Errorf(nsboot.ErrNotFound, "snapshot %q not found on master %q", snapName, masterName)
	}
	clients, err := e.store.Clients()
	if err != nil {
		return err
	}
	dependents := slicez.Filter(clients, func(c nsboot.Client) bool {
		return c.Master == masterName && c.Snapshot == snapName
	})
	if len(dependents) > 0 {
		names := slicez.Map(dependents, func(c nsboot.Client) string { return c.Name })
		return nsboot.Errorf(nsboot.ErrResourceInUse, "snapshot %s@%s is in use by clients: %s", masterName, snapName, strings.Join(names, ", "))
	}

	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.vol.DestroySnapshot(ctx, masterName, snapName); err != nil {
		return provisionErr(err, "could not destroy snapshot %s@%s", masterName, snapName)
	}
	return e.store.DeleteSnapshot(masterName, snapName)
}

// provisionClone creates the backing clone for a client and returns the
// device path. For direct mode an implicit base snapshot of the master is
// created first; a clone failure rolls it back.
func (e *Engine) provisionClone(ctx context.Context, id, master, snapshot string) (string, error) {
	snap := snapshot
	implicit := snapshot == ""
	if implicit {
		snap = directSnap(id)
		if err := e.vol.Snapshot(ctx, master, snap); err != nil {
			return "", provisionErr(err, "could not create base snapshot for client %s", id)
		}
	}
	device, err := e.vol.Clone(ctx, master, snap, cloneVolume(id))
	if err != nil {
		if implicit {
			if derr := e.vol.DestroySnapshot(ctx, master, snap); derr != nil {
				log.Errorf("rollback of base snapshot %s@%s failed: %v", master, snap, derr)
			}
		}
		return "", provisionErr(err, "could not clone %s@%s for client %s", master, snap, id)
	}
	return device, nil
}

// destroyClone removes a client's backing storage, including the implicit
// base snapshot in direct mode.
func (e *Engine) destroyClone(ctx context.Context, c nsboot.Client) error {
	if err := e.vol.DestroyVolume(ctx, cloneVolume(c.ID)); err != nil {
		return provisionErr(err, "could not destroy clone of client %s", c.ID)
	}
	if c.Snapshot == "" {
		if err := e.vol.DestroySnapshot(ctx, c.Master, directSnap(c.ID)); err != nil {
			log.Warnf("could not remove base snapshot of client %s: %v", c.ID, err)
		}
	}
	return nil
}

func (e *Engine) AddClient(ctx context.Context, req nsboot.AddClientRequest) (*nsboot.Client, error) {
	if err := validate.Client(req); err != nil {
		return nil, err
	}
	req.MAC = validate.CanonicalMAC(req.MAC)
	id := strings.ToLower(req.Name)
	defer e.lockAll("client:"+id, "master:"+req.Master)()

	m, err := e.store.Master(req.Master)
	if err != nil {
		return nil, err
	}
	if req.Snapshot != "" {
		ok := len(slicez.Filter(m.Snapshots, func(s nsboot.Snapshot) bool { return s.Name == req.Snapshot })) > 0
		if !ok {
			return nil, nsboot.Errorf(nsboot.ErrNotFound, "snapshot %q not found on master %q", req.Snapshot, req.Master)
		}
	}

	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	pool, err := e.vol.PoolStats(ctx)
	if err != nil {
		return nil, provisionErr(err, "could not read pool stats")
	}
	if pool.Available == 0 {
		return nil, nsboot.Errorf(nsboot.ErrCapacityExceeded, "pool %s has no space left for a new clone", pool.Name)
	}

	device, err := e.provisionClone(ctx, id, req.Master, req.Snapshot)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c := nsboot.Client{
		ID:          id,
		Name:        req.Name,
		MAC:         req.MAC,
		IP:          req.IP,
		Master:      req.Master,
		Snapshot:    req.Snapshot,
		CloneDevice: device,
		TargetIQN:   targetIQN(id),
		BlockStore:  blockStore(id),
		Status:      nsboot.StatusOffline,
		Mode:        mode(req.Snapshot),
		CreatedAt:   now,
		ModifiedAt:  now,
	}

	if err := e.net.Bind(ctx, binding(c)); err != nil {
		if derr := e.destroyClone(ctx, c); derr != nil {
			log.Errorf("rollback of clone for client %s failed: %v", id, derr)
		}
		return nil, provisionErr(err, "could not bind network boot for client %s", id)
	}

	// The store insert is the authoritative uniqueness check. A losing
	// racer rolls its clone back, no second resource is left behind.
	if err := e.store.CreateClient(c); err != nil {
		if derr := e.net.Unbind(ctx, binding(c)); derr != nil {
			log.Errorf("rollback of binding for client %s failed: %v", id, derr)
		}
		if derr := e.destroyClone(ctx, c); derr != nil {
			log.Errorf("rollback of clone for client %s failed: %v", id, derr)
		}
		return nil, err
	}
	return &c, nil
}

func mode(snapshot string) nsboot.ClientMode {
	if snapshot == "" {
		return nsboot.ModeMaster
	}
	return nsboot.ModeClone
}

func (e *Engine) EditClient(ctx context.Context, id string, req nsboot.AddClientRequest) (*nsboot.Client, error) {
	if err := validate.Client(req); err != nil {
		return nil, err
	}
	cur, unlock, err := e.lockClient(id, "master:"+req.Master)
	if err != nil {
		return nil, err
	}
	defer unlock()
	req.MAC = validate.CanonicalMAC(req.MAC)

	rebind := req.MAC != cur.MAC || req.IP != cur.IP
	restorage := req.Master != cur.Master || req.Snapshot != cur.Snapshot
	if cur.Status == nsboot.StatusOnline && (rebind || restorage) {
		return nil, nsboot.Errorf(nsboot.ErrPreconditionFailed,
			"client %s is Online, MAC/IP/master/snapshot changes require it to be Offline", cur.Name)
	}

	if restorage {
		m, err := e.store.Master(req.Master)
		if err != nil {
			return nil, err
		}
		if req.Snapshot != "" {
			ok := len(slicez.Filter(m.Snapshots, func(s nsboot.Snapshot) bool { return s.Name == req.Snapshot })) > 0
			if !ok {
				return nil, nsboot.Errorf(nsboot.ErrNotFound, "snapshot %q not found on master %q", req.Snapshot, req.Master)
			}
		}
	}

	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	next := cur
	next.Name = req.Name
	next.MAC = req.MAC
	next.IP = req.IP
	next.ModifiedAt = time.Now()

	if restorage {
		if err := e.destroyClone(ctx, cur); err != nil {
			return nil, err
		}
		device, err := e.provisionClone(ctx, id, req.Master, req.Snapshot)
		if err != nil {
			// The old clone is gone and the new one rolled itself back.
			// Record the gap instead of guessing.
			next.CloneDevice = ""
			next.Status = nsboot.StatusUnknown
			next.Master = req.Master
			next.Snapshot = req.Snapshot
			next.Mode = mode(req.Snapshot)
			if uerr := e.store.UpdateClient(next); uerr != nil {
				log.Errorf("could not mark client %s for reconciliation: %v", id, uerr)
			}
			return nil, err
		}
		next.Master = req.Master
		next.Snapshot = req.Snapshot
		next.Mode = mode(req.Snapshot)
		next.CloneDevice = device
	}

	if rebind || restorage {
		if err := e.net.Bind(ctx, binding(next)); err != nil {
			return nil, provisionErr(err, "could not rebind network boot for client %s", id)
		}
	}

	if err := e.store.UpdateClient(next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (e *Engine) DeleteClient(ctx context.Context, id string) error {
	cur, unlock, err := e.lockClient(id)
	if err != nil {
		return err
	}
	defer unlock()
	if cur.Status == nsboot.StatusOnline {
		return nsboot.Errorf(nsboot.ErrPreconditionFailed, "client %s is Online, shut it down before deleting", cur.Name)
	}

	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.net.Unbind(ctx, binding(cur)); err != nil {
		return provisionErr(err, "could not unbind network boot for client %s", id)
	}
	if err := e.destroyClone(ctx, cur); err != nil {
		return err
	}
	return e.store.DeleteClient(id)
}

// ControlClient dispatches power actions. reboot/shutdown/wake are fire and
// forget, success means the signal went out. reset rebuilds the clone from
// its snapshot.
func (e *Engine) ControlClient(ctx context.Context, id string, action nsboot.ClientAction) error {
	c, unlock, err := e.lockClient(id)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	switch action {
	case nsboot.ActionReboot:
		if c.Status != nsboot.StatusOnline {
			return nsboot.Errorf(nsboot.ErrPreconditionFailed, "client %s must be Online to reboot", c.Name)
		}
		return provisionErr(e.power.Reboot(ctx, c.IP), "could not send reboot to %s", c.Name)
	case nsboot.ActionShutdown:
		if c.Status != nsboot.StatusOnline {
			return nsboot.Errorf(nsboot.ErrPreconditionFailed, "client %s must be Online to shut down", c.Name)
		}
		return provisionErr(e.power.Shutdown(ctx, c.IP), "could not send shutdown to %s", c.Name)
	case nsboot.ActionWake:
		if c.Status == nsboot.StatusOnline {
			return nsboot.Errorf(nsboot.ErrPreconditionFailed, "client %s is already Online", c.Name)
		}
		return provisionErr(e.power.Wake(ctx, c.MAC), "could not send wake to %s", c.Name)
	case nsboot.ActionReset:
		if c.Status == nsboot.StatusOnline {
			return nsboot.Errorf(nsboot.ErrPreconditionFailed, "client %s must be Offline to reset its clone", c.Name)
		}
		return e.resetClient(ctx, c)
	default:
		return nsboot.Errorf(nsboot.ErrValidation, "invalid action: %s", action)
	}
}

// resetClient restores a client's clone to pristine snapshot state by
// destroying it and cloning again from the same origin.
func (e *Engine) resetClient(ctx context.Context, c nsboot.Client) error {
	if err := e.vol.DestroyVolume(ctx, cloneVolume(c.ID)); err != nil {
		return provisionErr(err, "could not destroy clone of client %s", c.ID)
	}
	snap := c.Snapshot
	if snap == "" {
		snap = directSnap(c.ID)
	}
	device, err := e.vol.Clone(ctx, c.Master, snap, cloneVolume(c.ID))
	if err != nil {
		c.CloneDevice = ""
		c.Status = nsboot.StatusUnknown
		if uerr := e.store.UpdateClient(c); uerr != nil {
			log.Errorf("could not mark client %s for reconciliation: %v", c.ID, uerr)
		}
		return provisionErr(err, "could not re-clone %s@%s for client %s", c.Master, snap, c.ID)
	}
	c.CloneDevice = device
	c.ModifiedAt = time.Now()
	if err := e.net.Bind(ctx, binding(c)); err != nil {
		return provisionErr(err, "could not rebind backstore for client %s", c.ID)
	}
	return e.store.UpdateClient(c)
}

func (e *Engine) ControlService(ctx context.Context, key string, action nsboot.ServiceAction) error {
	defer e.lock("service:" + key)()

	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	svc, err := e.svc.Status(ctx, key)
	if err != nil {
		return err
	}
	if svc.Foundational && action != nsboot.ServiceStart {
		return nsboot.Errorf(nsboot.ErrUnsupported, "service %q cannot be stopped or restarted, every client depends on it", key)
	}
	active := svc.Status == "active" || svc.Status == "running"
	switch action {
	case nsboot.ServiceStart:
		if active {
			return nsboot.Errorf(nsboot.ErrPreconditionFailed, "service %q is already %s", key, svc.Status)
		}
	case nsboot.ServiceStop:
		if !active {
			return nsboot.Errorf(nsboot.ErrPreconditionFailed, "service %q is already %s", key, svc.Status)
		}
	case nsboot.ServiceRestart:
	default:
		return nsboot.Errorf(nsboot.ErrValidation, "invalid action: %s", action)
	}
	return provisionErr(e.svc.Control(ctx, key, action), "could not %s service %s", action, key)
}

func (e *Engine) GetServiceConfig(ctx context.Context, key string) (string, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.svc.ReadConfig(ctx, key)
}

// SaveServiceConfig writes a service's configuration. It does not restart
// the service, applying is an explicit operator step.
func (e *Engine) SaveServiceConfig(ctx context.Context, key, content string) error {
	defer e.lock("service:" + key)()
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.svc.WriteConfig(ctx, key, content)
}

func (e *Engine) InstallService(ctx context.Context, key string) error {
	defer e.lock("service:" + key)()
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return provisionErr(e.svc.Install(ctx, key), "could not install service %s", key)
}

func (e *Engine) CreatePool(ctx context.Context, name, disk string) error {
	if err := validate.Name(name); err != nil {
		return err
	}
	defer e.lock("pool:" + name)()
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	exists, err := e.vol.PoolExists(ctx, name)
	if err != nil {
		return provisionErr(err, "could not check pool %s", name)
	}
	if exists {
		return nsboot.Errorf(nsboot.ErrNameConflict, "pool %q already exists", name)
	}
	return provisionErr(e.vol.CreatePool(ctx, name, disk), "could not create pool %s on %s", name, disk)
}
