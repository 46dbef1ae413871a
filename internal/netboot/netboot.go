// Package netboot wires a client into the boot pipeline: a DHCP host entry
// pointing PXE firmware at the right iPXE binary and an iSCSI target
// exporting the client's clone device.
package netboot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"
	"github.com/nsboot/nsboot/internal/infra"
)

type Plumbing struct {
	ServerIP       string
	DHCPConfigPath string
	DHCPUnit       string

	mu sync.Mutex
}

func New(serverIP, dhcpConfigPath string) *Plumbing {
	return &Plumbing{
		ServerIP:       serverIP,
		DHCPConfigPath: dhcpConfigPath,
		DHCPUnit:       "isc-dhcp-server.service",
	}
}

// HostEntry renders the dhcpd host block for one client. The block label is
// the stable client id, so renames replace the same block instead of leaving
// the old one behind. The vendor class switch picks legacy, 32-bit efi, or
// 64-bit efi iPXE binaries.
func HostEntry(id, name, mac, ip, serverIP, targetIQN string) string {
	return fmt.Sprintf(`host %s {
    hardware ethernet %s;
    fixed-address %s;
    option host-name "%s";
    if substring (option vendor-class-identifier, 15, 5) = "00000" {
        filename "ipxe.kpxe";
    }
    elsif substring (option vendor-class-identifier, 15, 5) = "00006" {
        filename "ipxe32.efi";
    }
    else {
        filename "ipxe.efi";
    }
    option root-path "iscsi:%s::::%s";
}`, strings.ToUpper(id), mac, ip, strings.ToUpper(name), serverIP, targetIQN)
}

func hostBlockReg(id string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)host\s+` + regexp.QuoteMeta(strings.ToUpper(id)) + `\s*\{(?:[^{}]|(?:\{[^{}]*\}))*\}\s*`)
}

// UpsertHost removes any previous block for the client id and appends entry.
// An empty entry just removes.
func UpsertHost(content, id, entry string) string {
	content = hostBlockReg(id).ReplaceAllString(content, "")
	content = strings.TrimRight(content, "\n")
	if entry == "" {
		return content + "\n"
	}
	return content + "\n\n" + entry + "\n"
}

func (p *Plumbing) updateDHCP(ctx context.Context, id, entry string) error {
	data, err := os.ReadFile(p.DHCPConfigPath)
	if err != nil {
		return fmt.Errorf("could not read dhcp config: %w", err)
	}
	next := UpsertHost(string(data), id, entry)
	if err := os.WriteFile(p.DHCPConfigPath, []byte(next), 0644); err != nil {
		return fmt.Errorf("could not write dhcp config: %w", err)
	}
	return run(ctx, "systemctl", "restart", p.DHCPUnit)
}

func run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "sudo", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %v, %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "sudo", args...)
	out, err := cmd.Output()
	return string(out), err
}

func (p *Plumbing) setupTarget(ctx context.Context, b infra.Binding) error {
	existing, _ := output(ctx, "targetcli", "iscsi/ ls")
	if !strings.Contains(existing, b.TargetIQN) {
		if err := run(ctx, "targetcli", "iscsi/ create", b.TargetIQN); err != nil {
			return err
		}
		for _, attr := range []string{
			"generate_node_acls=1",
			"cache_dynamic_acls=1",
			"demo_mode_write_protect=0",
			"authentication=0",
		} {
			if err := run(ctx, "targetcli", fmt.Sprintf("iscsi/%s/tpg1 set attribute %s", b.TargetIQN, attr)); err != nil {
				return err
			}
		}
	}

	stores, _ := output(ctx, "targetcli", "backstores/block/ ls")
	if strings.Contains(stores, b.BlockStore) {
		if err := run(ctx, "targetcli", "backstores/block/ delete", b.BlockStore); err != nil {
			return err
		}
	}
	if err := run(ctx, "targetcli", "backstores/block create", b.BlockStore, b.Device); err != nil {
		return err
	}

	luns, _ := output(ctx, "targetcli", fmt.Sprintf("iscsi/%s/tpg1/luns ls", b.TargetIQN))
	if !strings.Contains(luns, b.BlockStore) {
		if err := run(ctx, "targetcli", fmt.Sprintf("iscsi/%s/tpg1/luns create", b.TargetIQN), "/backstores/block/"+b.BlockStore); err != nil {
			return err
		}
	}

	portals, _ := output(ctx, "targetcli", fmt.Sprintf("iscsi/%s/tpg1/portals/ ls", b.TargetIQN))
	if !strings.Contains(portals, "0.0.0.0") {
		if err := run(ctx, "targetcli", fmt.Sprintf("iscsi/%s/tpg1/portals/ create 0.0.0.0 3260", b.TargetIQN)); err != nil {
			return err
		}
	}
	return run(ctx, "targetcli", "saveconfig")
}

func (p *Plumbing) teardownTarget(ctx context.Context, b infra.Binding) {
	if err := run(ctx, "targetcli", fmt.Sprintf("iscsi/ delete %s", b.TargetIQN)); err != nil {
		log.Warnf("could not delete target %s: %v", b.TargetIQN, err)
	}
	stores, _ := output(ctx, "targetcli", "backstores/block ls")
	if strings.Contains(stores, b.BlockStore) {
		if err := run(ctx, "targetcli", fmt.Sprintf("backstores/block/ delete %s", b.BlockStore)); err != nil {
			log.Warnf("could not delete backstore %s: %v", b.BlockStore, err)
		}
	}
	if err := run(ctx, "targetcli", "saveconfig"); err != nil {
		log.Warnf("could not save target config: %v", err)
	}
}

func (p *Plumbing) Bind(ctx context.Context, b infra.Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.setupTarget(ctx, b); err != nil {
		return err
	}
	entry := HostEntry(b.ClientID, b.Name, b.MAC, b.IP, p.ServerIP, b.TargetIQN)
	return p.updateDHCP(ctx, b.ClientID, entry)
}

func (p *Plumbing) Unbind(ctx context.Context, b infra.Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownTarget(ctx, b)
	return p.updateDHCP(ctx, b.ClientID, "")
}
