package main

import (
	"github.com/labstack/gommon/log"

	"github.com/nsboot/nsboot/internal/api"
	"github.com/nsboot/nsboot/internal/config"
	"github.com/nsboot/nsboot/internal/engine"
	"github.com/nsboot/nsboot/internal/netboot"
	"github.com/nsboot/nsboot/internal/poller"
	"github.com/nsboot/nsboot/internal/services"
	"github.com/nsboot/nsboot/internal/store"
	"github.com/nsboot/nsboot/internal/sysinfo"
	"github.com/nsboot/nsboot/internal/zfs"
)

func check(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	cfg := config.Get()
	if cfg.ServerIP == "" {
		cfg.ServerIP = sysinfo.ServerIP()
	}
	log.Infof("== nsbootd, pool %s, server ip %s ==", cfg.ZFSPool, cfg.ServerIP)

	st, err := store.Open(cfg.StatePath)
	check(err)
	defer st.Close()

	z := zfs.NewZFS(cfg.ZFSPool)

	catalog, err := services.LoadCatalog(cfg.ServiceCatalog,
		services.DefaultCatalog(cfg.ZFSPool, cfg.DHCPConfigPath, cfg.TFTPConfigPath, cfg.ISCSIConfigPath))
	check(err)
	mgr := services.NewManager(catalog, cfg.ZFSPool)

	nb := netboot.New(cfg.ServerIP, cfg.DHCPConfigPath)
	power := netboot.NewPower()

	app := engine.New(st, z, nb, power, mgr, cfg.ProvisionTimeout)

	pol := poller.New(st, z, power, mgr, cfg.PollInterval)
	check(pol.Start(cfg.PollInterval))
	defer pol.Stop()

	check(api.Start(cfg, app, st, pol, sysinfo.System{}))
}
