package api

import (
	"strings"

	"github.com/nsboot/nsboot"
	"github.com/nsboot/nsboot/internal/config"
	"github.com/nsboot/nsboot/internal/store"
	"github.com/nsboot/nsboot/internal/sysinfo"
)

// splitSnapshotName takes the qualified master@snapshot form used on the
// wire and returns the scoped parts the engine works with.
func splitSnapshotName(qualified string) (master, snap string, err error) {
	parts := strings.Split(qualified, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", nsboot.Errorf(nsboot.ErrValidation, "invalid snapshot name %q, expected master@snapshot", qualified)
	}
	return parts[0], parts[1], nil
}

func getServerStatus(cfg *config.Config, st *store.Store) (*nsboot.ServerStatus, error) {
	clients, err := st.Clients()
	if err != nil {
		return nil, err
	}
	masters, err := st.Masters()
	if err != nil {
		return nil, err
	}
	pool, err := st.PoolStats()
	if err != nil {
		return nil, err
	}
	snaps := 0
	for _, m := range masters {
		snaps += len(m.Snapshots)
	}
	status := &nsboot.ServerStatus{
		Address: cfg.ServerIP,
		Pool:    pool,
		Clients: len(clients),
		Masters: len(masters),
		Snaps:   snaps,
	}
	status.Load1, status.Load5, status.Load15 = sysinfo.LoadAvg()
	if ram, err := sysinfo.RAMStats(); err == nil {
		status.FreeMem = ram.Memory.Free
		status.TotalMem = ram.Memory.Total
		status.UsedMem = ram.Memory.Used
	}
	return status, nil
}
