// Package poller reconciles live infrastructure state into the store on a
// schedule. It only ever writes observation fields, the engine owns the
// rest. A console refresh is just this reconciliation run on demand plus a
// read.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"

	"github.com/nsboot/nsboot"
	"github.com/nsboot/nsboot/internal/infra"
	"github.com/nsboot/nsboot/internal/store"
)

type Poller struct {
	store  *store.Store
	vol    infra.Volumes
	power  infra.Power
	svc    infra.ServiceManager
	cron   *cron.Cron
	probes *cache.Cache
}

func New(st *store.Store, vol infra.Volumes, power infra.Power, svc infra.ServiceManager, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		store:  st,
		vol:    vol,
		power:  power,
		svc:    svc,
		cron:   cron.New(),
		probes: cache.New(interval, 2*interval),
	}
}

func (p *Poller) Start(interval time.Duration) error {
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := p.Reconcile(ctx); err != nil {
			log.Errorf("reconciliation run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("could not schedule reconciliation: %w", err)
	}
	p.cron.Start()
	return nil
}

func (p *Poller) Stop() {
	p.cron.Stop()
}

// Reconcile probes client reachability, pool usage and service state and
// writes the observations back. Probe results are cached so a burst of
// on-demand refreshes does not turn into a ping storm.
func (p *Poller) Reconcile(ctx context.Context) error {
	clients, err := p.store.Clients()
	if err != nil {
		return err
	}
	for _, c := range clients {
		status := p.probe(ctx, c.IP)
		if status == c.Status {
			continue
		}
		if err := p.store.SetClientStatus(c.ID, status); err != nil {
			log.Errorf("could not record status of client %s: %v", c.ID, err)
		}
	}

	stats, err := p.vol.PoolStats(ctx)
	if err != nil {
		log.Warnf("could not read pool stats: %v", err)
	} else if err := p.store.SetPoolStats(stats); err != nil {
		return err
	}

	services, err := p.svc.List(ctx)
	if err != nil {
		log.Warnf("could not read service state: %v", err)
		return nil
	}
	return p.store.SetServices(services)
}

func (p *Poller) probe(ctx context.Context, ip string) nsboot.ClientStatus {
	if cached, ok := p.probes.Get(ip); ok {
		return cached.(nsboot.ClientStatus)
	}
	online, err := p.power.Probe(ctx, ip)
	var status nsboot.ClientStatus
	switch {
	case err != nil:
		status = nsboot.StatusUnknown
	case online:
		status = nsboot.StatusOnline
	default:
		status = nsboot.StatusOffline
	}
	p.probes.SetDefault(ip, status)
	return status
}

// Invalidate drops the cached probe for ip so the next reconciliation
// pings again, used after power actions.
func (p *Poller) Invalidate(ip string) {
	p.probes.Delete(ip)
}
