package netboot

import (
	"context"
	"fmt"
	"os/exec"
)

// Power sends fire-and-forget signals to client machines. Reboot and
// shutdown go over SMB RPC, wake is a Wake-on-LAN magic packet, probing is
// a single ping.
type Power struct {
	// Credentials for the remote shutdown RPC on the booted OS image.
	RPCUser string
}

func NewPower() *Power {
	return &Power{RPCUser: "diskless%1"}
}

func (p *Power) Wake(ctx context.Context, mac string) error {
	out, err := exec.CommandContext(ctx, "wakeonlan", mac).CombinedOutput()
	if err != nil {
		return fmt.Errorf("wake-on-lan failed: %v, %s", err, out)
	}
	return nil
}

func (p *Power) Reboot(ctx context.Context, ip string) error {
	out, err := exec.CommandContext(ctx, "net", "rpc", "shutdown", "-r", "-I", ip, "-U", p.RPCUser, "-f", "-t", "0").CombinedOutput()
	if err != nil {
		return fmt.Errorf("reboot rpc failed: %v, %s", err, out)
	}
	return nil
}

func (p *Power) Shutdown(ctx context.Context, ip string) error {
	out, err := exec.CommandContext(ctx, "net", "rpc", "shutdown", "-S", ip, "-U", p.RPCUser).CombinedOutput()
	if err != nil {
		return fmt.Errorf("shutdown rpc failed: %v, %s", err, out)
	}
	return nil
}

func (p *Power) Probe(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	err := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "1", ip).Run()
	return err == nil, nil
}
