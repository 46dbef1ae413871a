// Package sysinfo reports host memory and load figures and implements the
// small system boundary (disk discovery, cache drop) used during setup.
package sysinfo

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nsboot/nsboot"
)

func RAMStats() (nsboot.RAMStats, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nsboot.RAMStats{}, fmt.Errorf("could not read memory stats: %w", err)
	}
	sw, err := mem.SwapMemory()
	if err != nil {
		return nsboot.RAMStats{}, fmt.Errorf("could not read swap stats: %w", err)
	}
	return nsboot.RAMStats{
		Memory: nsboot.MemStats{
			Total:     vm.Total,
			Used:      vm.Used,
			Free:      vm.Free,
			Shared:    vm.Shared,
			BuffCache: vm.Buffers + vm.Cached,
			Available: vm.Available,
		},
		Swap: nsboot.SwapStats{
			Total: sw.Total,
			Used:  sw.Used,
			Free:  sw.Free,
		},
	}, nil
}

func LoadAvg() (l1, l5, l15 float64) {
	avg, err := load.Avg()
	if err != nil {
		return 0, 0, 0
	}
	return avg.Load1, avg.Load5, avg.Load15
}

type System struct{}

func (System) ListDisks(ctx context.Context) ([]nsboot.Disk, error) {
	out, err := exec.CommandContext(ctx, "lsblk", "-dn", "-o", "NAME,SIZE,MODEL").Output()
	if err != nil {
		return nil, fmt.Errorf("could not list disks: %w", err)
	}
	var disks []nsboot.Disk
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := nsboot.Disk{Name: fields[0], Size: fields[1]}
		if len(fields) > 2 {
			d.Model = strings.Join(fields[2:], " ")
		}
		disks = append(disks, d)
	}
	return disks, nil
}

// DropCaches syncs and drops the page cache, the "clear RAM" button in the
// console.
func (System) DropCaches(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "sync").Run(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	out, err := exec.CommandContext(ctx, "sudo", "sh", "-c", "echo 3 > /proc/sys/vm/drop_caches").CombinedOutput()
	if err != nil {
		return fmt.Errorf("could not drop caches: %v, %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ServerIP guesses the host's primary address by routing a probe packet,
// nothing is actually sent. Fallback for when NSBOOT_SERVER_IP is unset.
func ServerIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
