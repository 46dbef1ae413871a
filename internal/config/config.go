package config

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ZFSPool          string        `env:"NSBOOT_ZFS_POOL" envDefault:"nsboot0"`
	APIPort          int           `env:"NSBOOT_API_PORT" envDefault:"5000"`
	StatePath        string        `env:"NSBOOT_STATE_PATH" envDefault:"/var/lib/nsboot/state.db"`
	ServiceCatalog   string        `env:"NSBOOT_SERVICE_CATALOG" envDefault:"/etc/nsboot/services.yml"`
	ServerIP         string        `env:"NSBOOT_SERVER_IP"`
	DHCPConfigPath   string        `env:"NSBOOT_DHCP_CONFIG" envDefault:"/etc/dhcp/dhcpd.conf"`
	TFTPConfigPath   string        `env:"NSBOOT_TFTP_CONFIG" envDefault:"/etc/default/tftpd-hpa"`
	ISCSIConfigPath  string        `env:"NSBOOT_ISCSI_CONFIG" envDefault:"/etc/rtslib-fb-target/saveconfig.json"`
	PollInterval     time.Duration `env:"NSBOOT_POLL_INTERVAL" envDefault:"30s"`
	ProvisionTimeout time.Duration `env:"NSBOOT_PROVISION_TIMEOUT" envDefault:"60s"`
}

var (
	once sync.Once
	cfg  Config
)

func Get() *Config {
	once.Do(func() {
		cfg = Config{}
		if err := env.Parse(&cfg); err != nil {
			log.Panic("Couldn't parse Config from env: ", err)
		}
	})
	return &cfg
}
