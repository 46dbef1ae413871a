package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nsboot/nsboot"
	"github.com/nsboot/nsboot/internal/infra"
	"github.com/nsboot/nsboot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *infra.Fake) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	fake := infra.NewFake()
	return New(st, fake, fake, fake, fake, time.Minute), st, fake
}

func addMaster(t *testing.T, e *Engine, name string) {
	t.Helper()
	_, err := e.CreateMaster(context.Background(), name, "50G")
	require.NoError(t, err)
}

func addSnap(t *testing.T, e *Engine, master, snap string) {
	t.Helper()
	_, err := e.CreateSnapshot(context.Background(), master, snap)
	require.NoError(t, err)
}

func TestCreateMaster(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()

	m, err := e.CreateMaster(ctx, "win11", "50G")
	require.NoError(t, err)
	assert.Equal(t, "win11", m.Name)
	assert.Equal(t, "50G", m.Size)
	assert.False(t, m.Default)
	assert.True(t, fake.HasVolume("win11"))

	_, err = st.Master("win11")
	assert.NoError(t, err)

	_, err = e.CreateMaster(ctx, "win11", "20G")
	assert.Equal(t, nsboot.ErrNameConflict, nsboot.KindOf(err))

	_, err = e.CreateMaster(ctx, "bad name", "20G")
	assert.Equal(t, nsboot.ErrValidation, nsboot.KindOf(err))

	_, err = e.CreateMaster(ctx, "huge", "nonsense")
	assert.Equal(t, nsboot.ErrValidation, nsboot.KindOf(err))

	_, err = e.CreateMaster(ctx, "huge", "10T")
	assert.Equal(t, nsboot.ErrCapacityExceeded, nsboot.KindOf(err))
	assert.False(t, fake.HasVolume("huge"), "no volume may exist after a rejected create")
}

func TestDeleteMaster(t *testing.T) {
	e, _, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addSnap(t, e, "win11", "v1")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)

	err = e.DeleteMaster(ctx, "win11")
	assert.Equal(t, nsboot.ErrResourceInUse, nsboot.KindOf(err))
	assert.Contains(t, err.Error(), "pc-01", "the error should name the dependent clients")
	assert.True(t, fake.HasVolume("win11"))

	require.NoError(t, e.DeleteClient(ctx, "pc-01"))
	require.NoError(t, e.DeleteMaster(ctx, "win11"))
	assert.False(t, fake.HasVolume("win11"))

	err = e.DeleteMaster(ctx, "win11")
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))
}

func TestSnapshotLifecycle(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")

	snap, err := e.CreateSnapshot(ctx, "win11", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", snap.Name)
	assert.True(t, fake.HasSnapshot("win11", "v1"))

	_, err = e.CreateSnapshot(ctx, "win11", "v1")
	assert.Equal(t, nsboot.ErrNameConflict, nsboot.KindOf(err))

	_, err = e.CreateSnapshot(ctx, "ghost", "v1")
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))

	_, err = e.CreateSnapshot(ctx, "win11", "not a name")
	assert.Equal(t, nsboot.ErrValidation, nsboot.KindOf(err))

	require.NoError(t, e.DeleteSnapshot(ctx, "win11", "v1"))
	assert.False(t, fake.HasSnapshot("win11", "v1"))

	m, err := st.Master("win11")
	require.NoError(t, err)
	assert.Empty(t, m.Snapshots)

	err = e.DeleteSnapshot(ctx, "win11", "v1")
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))
}

func TestDeleteSnapshotInUse(t *testing.T) {
	e, _, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addSnap(t, e, "win11", "v1")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)

	err = e.DeleteSnapshot(ctx, "win11", "v1")
	assert.Equal(t, nsboot.ErrResourceInUse, nsboot.KindOf(err))
	assert.True(t, fake.HasSnapshot("win11", "v1"))

	require.NoError(t, e.DeleteClient(ctx, "pc-01"))
	require.NoError(t, e.DeleteSnapshot(ctx, "win11", "v1"))
}

func TestAddClientCloneMode(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addSnap(t, e, "win11", "v1")

	c, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "PC-01", MAC: "aa-bb-cc-dd-ee-01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pc-01", c.ID, "id is the lowercased name")
	assert.Equal(t, "PC-01", c.Name, "display name keeps its case")
	assert.Equal(t, "AA:BB:CC:DD:EE:01", c.MAC, "mac is canonicalized")
	assert.Equal(t, nsboot.ModeClone, c.Mode)
	assert.Equal(t, nsboot.StatusOffline, c.Status)
	assert.Equal(t, "/dev/zvol/pc-01-disk", c.CloneDevice)
	assert.Equal(t, "iqn.2025-04.com.nsboot:pc-01", c.TargetIQN)
	assert.Equal(t, "block_pc-01", c.BlockStore)
	assert.True(t, fake.HasVolume("pc-01-disk"))
	assert.True(t, fake.HasBinding("pc-01"))

	got, err := st.Client("pc-01")
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
}

func TestAddClientMasterMode(t *testing.T) {
	e, _, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")

	c, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11",
	})
	require.NoError(t, err)

	assert.Equal(t, nsboot.ModeMaster, c.Mode)
	assert.Empty(t, c.Snapshot)
	assert.True(t, fake.HasSnapshot("win11", "pc-01-base"), "direct mode clones off an implicit base snapshot")
	assert.True(t, fake.HasVolume("pc-01-disk"))
}

func TestAddClientRejections(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addSnap(t, e, "win11", "v1")

	tests := []struct {
		req  nsboot.AddClientRequest
		kind nsboot.ErrorKind
	}{
		{nsboot.AddClientRequest{Name: "", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11"}, nsboot.ErrValidation},
		{nsboot.AddClientRequest{Name: "pc-01", MAC: "nope", IP: "10.0.0.1", Master: "win11"}, nsboot.ErrValidation},
		{nsboot.AddClientRequest{Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.999", Master: "win11"}, nsboot.ErrValidation},
		{nsboot.AddClientRequest{Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: ""}, nsboot.ErrValidation},
		{nsboot.AddClientRequest{Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "ghost"}, nsboot.ErrNotFound},
		{nsboot.AddClientRequest{Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "ghost"}, nsboot.ErrNotFound},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("test_%d", i), func(t *testing.T) {
			_, err := e.AddClient(ctx, tt.req)
			assert.Equal(t, tt.kind, nsboot.KindOf(err))
		})
	}
}

func TestAddClientRollbackOnConflict(t *testing.T) {
	e, _, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addSnap(t, e, "win11", "v1")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)

	// same MAC under a different name, loses at the store insert
	_, err = e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-02", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.2", Master: "win11", Snapshot: "v1",
	})
	assert.Equal(t, nsboot.ErrNameConflict, nsboot.KindOf(err))
	assert.False(t, fake.HasVolume("pc-02-disk"), "loser's clone must be rolled back")
	assert.False(t, fake.HasBinding("pc-02"), "loser's binding must be rolled back")
	assert.True(t, fake.HasVolume("pc-01-disk"))
}

func TestAddClientRollbackOnBindFailure(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")

	fake.BindErr = errors.New("targetcli exploded")
	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11",
	})
	assert.Equal(t, nsboot.ErrProvisioningFailed, nsboot.KindOf(err))
	assert.False(t, fake.HasVolume("pc-01-disk"))
	assert.False(t, fake.HasSnapshot("win11", "pc-01-base"), "implicit base snapshot must be rolled back")

	_, err = st.Client("pc-01")
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))
}

func TestAddClientRollbackOnCloneFailure(t *testing.T) {
	e, _, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")

	fake.CloneErr = errors.New("zfs clone failed")
	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11",
	})
	assert.Equal(t, nsboot.ErrProvisioningFailed, nsboot.KindOf(err))
	assert.False(t, fake.HasSnapshot("win11", "pc-01-base"))
	assert.False(t, fake.HasBinding("pc-01"))
}

func TestConcurrentAddClientSameMAC(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addSnap(t, e, "win11", "v1")

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.AddClient(ctx, nsboot.AddClientRequest{
				Name:     fmt.Sprintf("pc-%02d", i),
				MAC:      "AA:BB:CC:DD:EE:01",
				IP:       fmt.Sprintf("10.0.0.%d", i+1),
				Master:   "win11",
				Snapshot: "v1",
			})
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.Equal(t, nsboot.ErrNameConflict, nsboot.KindOf(err))
	}
	assert.Equal(t, 1, won, "exactly one racer may win")

	clients, err := st.Clients()
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

// gatedNetboot holds Bind open until released, pinning AddClient in the
// middle of provisioning.
type gatedNetboot struct {
	*infra.Fake
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNetboot) Bind(ctx context.Context, b infra.Binding) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Fake.Bind(ctx, b)
}

func TestDeleteMasterWaitsForClientProvisioning(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	fake := infra.NewFake()
	gate := &gatedNetboot{Fake: fake, entered: make(chan struct{}), release: make(chan struct{})}
	e := New(st, fake, gate, fake, fake, time.Minute)
	ctx := context.Background()
	addMaster(t, e, "win11")

	addErr := make(chan error, 1)
	go func() {
		_, err := e.AddClient(ctx, nsboot.AddClientRequest{
			Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11",
		})
		addErr <- err
	}()
	<-gate.entered

	delErr := make(chan error, 1)
	go func() { delErr <- e.DeleteMaster(ctx, "win11") }()

	// the delete must queue behind the in-flight provisioning, not race it
	select {
	case err := <-delErr:
		t.Fatalf("DeleteMaster finished while a client was still provisioning: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-addErr)

	err = <-delErr
	assert.Equal(t, nsboot.ErrResourceInUse, nsboot.KindOf(err))

	_, err = st.Master("win11")
	assert.NoError(t, err, "the master the client depends on must survive")
	c, err := st.Client("pc-01")
	require.NoError(t, err)
	assert.Equal(t, "win11", c.Master)
}

func TestAddClientPoolFull(t *testing.T) {
	e, _, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	fake.Pool.Available = 0

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11",
	})
	assert.Equal(t, nsboot.ErrCapacityExceeded, nsboot.KindOf(err))
	assert.False(t, fake.HasVolume("pc-01-disk"), "a rejected client must not leave a clone behind")
	assert.False(t, fake.HasSnapshot("win11", "pc-01-base"), "a rejected client must not leave a base snapshot behind")
}

func TestEditClient(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addMaster(t, e, "ubuntu")
	addSnap(t, e, "win11", "v1")
	addSnap(t, e, "ubuntu", "lts")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)

	// name-only edits are allowed while Online
	require.NoError(t, st.SetClientStatus("pc-01", nsboot.StatusOnline))
	c, err := e.EditClient(ctx, "pc-01", nsboot.AddClientRequest{
		Name: "lab-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)
	assert.Equal(t, "lab-01", c.Name)
	assert.Equal(t, "pc-01", c.ID, "the id is stable across renames")

	// anything touching MAC/IP/master/snapshot requires Offline
	_, err = e.EditClient(ctx, "pc-01", nsboot.AddClientRequest{
		Name: "lab-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.2", Master: "win11", Snapshot: "v1",
	})
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err))

	require.NoError(t, st.SetClientStatus("pc-01", nsboot.StatusOffline))
	c, err = e.EditClient(ctx, "pc-01", nsboot.AddClientRequest{
		Name: "lab-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.2", Master: "ubuntu", Snapshot: "lts",
	})
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", c.Master)
	assert.Equal(t, "lts", c.Snapshot)
	assert.Equal(t, "/dev/zvol/pc-01-disk", c.CloneDevice)
	assert.True(t, fake.HasVolume("pc-01-disk"))
	assert.True(t, fake.HasBinding("pc-01"))
}

func TestEditClientProvisionFailureMarksUnknown(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addMaster(t, e, "ubuntu")
	addSnap(t, e, "win11", "v1")
	addSnap(t, e, "ubuntu", "lts")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)

	fake.CloneErr = errors.New("zfs clone failed")
	_, err = e.EditClient(ctx, "pc-01", nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "ubuntu", Snapshot: "lts",
	})
	assert.Equal(t, nsboot.ErrProvisioningFailed, nsboot.KindOf(err))

	c, err := st.Client("pc-01")
	require.NoError(t, err)
	assert.Equal(t, nsboot.StatusUnknown, c.Status, "a half-moved client is flagged for reconciliation")
	assert.Empty(t, c.CloneDevice)
}

func TestDeleteClient(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11",
	})
	require.NoError(t, err)

	require.NoError(t, st.SetClientStatus("pc-01", nsboot.StatusOnline))
	err = e.DeleteClient(ctx, "pc-01")
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err))

	require.NoError(t, st.SetClientStatus("pc-01", nsboot.StatusOffline))
	require.NoError(t, e.DeleteClient(ctx, "pc-01"))
	assert.False(t, fake.HasVolume("pc-01-disk"))
	assert.False(t, fake.HasBinding("pc-01"))
	assert.False(t, fake.HasSnapshot("win11", "pc-01-base"), "the implicit base snapshot goes with the client")

	err = e.DeleteClient(ctx, "pc-01")
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))
}

func TestControlClient(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11",
	})
	require.NoError(t, err)

	// offline: reboot/shutdown rejected, wake goes out
	err = e.ControlClient(ctx, "pc-01", nsboot.ActionReboot)
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err))
	err = e.ControlClient(ctx, "pc-01", nsboot.ActionShutdown)
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err))
	require.NoError(t, e.ControlClient(ctx, "pc-01", nsboot.ActionWake))
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:01"}, fake.Woken)

	// online: wake rejected, reboot/shutdown go out
	require.NoError(t, st.SetClientStatus("pc-01", nsboot.StatusOnline))
	err = e.ControlClient(ctx, "pc-01", nsboot.ActionWake)
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err))
	require.NoError(t, e.ControlClient(ctx, "pc-01", nsboot.ActionReboot))
	assert.Equal(t, []string{"10.0.0.1"}, fake.Rebooted)
	require.NoError(t, e.ControlClient(ctx, "pc-01", nsboot.ActionShutdown))
	assert.Equal(t, []string{"10.0.0.1"}, fake.Downed)

	err = e.ControlClient(ctx, "pc-01", "explode")
	assert.Equal(t, nsboot.ErrValidation, nsboot.KindOf(err))

	err = e.ControlClient(ctx, "ghost", nsboot.ActionWake)
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))
}

func TestResetClient(t *testing.T) {
	e, st, fake := newTestEngine(t)
	ctx := context.Background()
	addMaster(t, e, "win11")
	addSnap(t, e, "win11", "v1")

	_, err := e.AddClient(ctx, nsboot.AddClientRequest{
		Name: "pc-01", MAC: "AA:BB:CC:DD:EE:01", IP: "10.0.0.1", Master: "win11", Snapshot: "v1",
	})
	require.NoError(t, err)

	require.NoError(t, st.SetClientStatus("pc-01", nsboot.StatusOnline))
	err = e.ControlClient(ctx, "pc-01", nsboot.ActionReset)
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err), "reset must not pull storage from under a running client")

	require.NoError(t, st.SetClientStatus("pc-01", nsboot.StatusOffline))
	require.NoError(t, e.ControlClient(ctx, "pc-01", nsboot.ActionReset))
	assert.True(t, fake.HasVolume("pc-01-disk"))
	assert.True(t, fake.HasBinding("pc-01"))

	c, err := st.Client("pc-01")
	require.NoError(t, err)
	assert.Equal(t, "/dev/zvol/pc-01-disk", c.CloneDevice)
}

func TestControlService(t *testing.T) {
	e, _, fake := newTestEngine(t)
	ctx := context.Background()

	// the storage pool backs every booted client
	err := e.ControlService(ctx, "zfs", nsboot.ServiceStop)
	assert.Equal(t, nsboot.ErrUnsupported, nsboot.KindOf(err))
	err = e.ControlService(ctx, "zfs", nsboot.ServiceRestart)
	assert.Equal(t, nsboot.ErrUnsupported, nsboot.KindOf(err))

	err = e.ControlService(ctx, "dhcp", nsboot.ServiceStart)
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err), "already running")

	require.NoError(t, e.ControlService(ctx, "dhcp", nsboot.ServiceStop))
	svc, err := fake.Status(ctx, "dhcp")
	require.NoError(t, err)
	assert.Equal(t, "inactive", svc.Status)

	err = e.ControlService(ctx, "dhcp", nsboot.ServiceStop)
	assert.Equal(t, nsboot.ErrPreconditionFailed, nsboot.KindOf(err), "already stopped")

	require.NoError(t, e.ControlService(ctx, "dhcp", nsboot.ServiceStart))
	require.NoError(t, e.ControlService(ctx, "dhcp", nsboot.ServiceRestart))

	err = e.ControlService(ctx, "ghost", nsboot.ServiceStart)
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))

	err = e.ControlService(ctx, "dhcp", "explode")
	assert.Equal(t, nsboot.ErrValidation, nsboot.KindOf(err))
}

func TestServiceConfig(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	content, err := e.GetServiceConfig(ctx, "dhcp")
	require.NoError(t, err)
	assert.Contains(t, content, "subnet")

	err = e.SaveServiceConfig(ctx, "dhcp", "  \n")
	assert.Equal(t, nsboot.ErrValidation, nsboot.KindOf(err))

	require.NoError(t, e.SaveServiceConfig(ctx, "dhcp", "subnet 10.1.0.0 netmask 255.255.255.0 {}\n"))
	content, err = e.GetServiceConfig(ctx, "dhcp")
	require.NoError(t, err)
	assert.Contains(t, content, "10.1.0.0")

	_, err = e.GetServiceConfig(ctx, "ghost")
	assert.Equal(t, nsboot.ErrNotFound, nsboot.KindOf(err))
}

func TestCreatePool(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	err := e.CreatePool(ctx, "nsboot0", "/dev/sdb")
	assert.Equal(t, nsboot.ErrNameConflict, nsboot.KindOf(err))

	require.NoError(t, e.CreatePool(ctx, "tank", "/dev/sdb"))
}
