// Package store is the single source of truth for clients, masters and
// observed infrastructure state. Uniqueness checks and inserts share one
// bolt transaction, so concurrent registrations cannot both pass the
// check-then-act window.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nsboot/nsboot"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketClients  = []byte("clients")
	bucketMasters  = []byte("masters")
	bucketObserved = []byte("observed")
)

var keyPoolStats = []byte("pool_stats")
var keyServices = []byte("services")

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open state db at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketClients, bucketMasters, bucketObserved} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// CreateClient inserts a new client record, enforcing name, MAC and IP
// uniqueness within the same transaction.
func (s *Store) CreateClient(c nsboot.Client) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClients)
		if err := checkClientUnique(b, c, ""); err != nil {
			return err
		}
		return put(b, c.ID, c)
	})
}

// UpdateClient replaces the record under c.ID, re-checking uniqueness
// against everyone else.
func (s *Store) UpdateClient(c nsboot.Client) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClients)
		if b.Get([]byte(c.ID)) == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "client %s not found", c.ID)
		}
		if err := checkClientUnique(b, c, c.ID); err != nil {
			return err
		}
		return put(b, c.ID, c)
	})
}

func checkClientUnique(b *bolt.Bucket, c nsboot.Client, selfID string) error {
	return b.ForEach(func(k, v []byte) error {
		if string(k) == selfID {
			return nil
		}
		var other nsboot.Client
		if err := json.Unmarshal(v, &other); err != nil {
			return err
		}
		switch {
		case strings.EqualFold(other.Name, c.Name):
			return nsboot.Errorf(nsboot.ErrNameConflict, "a client with name %q already exists", c.Name)
		case other.MAC == c.MAC:
			return nsboot.Errorf(nsboot.ErrNameConflict, "MAC address %s is already in use by client %q", c.MAC, other.Name)
		case other.IP == c.IP:
			return nsboot.Errorf(nsboot.ErrNameConflict, "IP address %s is already in use by client %q", c.IP, other.Name)
		}
		return nil
	})
}

func (s *Store) DeleteClient(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClients)
		if b.Get([]byte(id)) == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "client %s not found", id)
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) Client(id string) (nsboot.Client, error) {
	var c nsboot.Client
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketClients).Get([]byte(id))
		if data == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "client %s not found", id)
		}
		return json.Unmarshal(data, &c)
	})
	return c, err
}

func (s *Store) Clients() ([]nsboot.Client, error) {
	var clients []nsboot.Client
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClients).ForEach(func(k, v []byte) error {
			var c nsboot.Client
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			clients = append(clients, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Name < clients[j].Name
	})
	return clients, nil
}

// SetClientStatus is the poller's write path. It only touches the
// observation field and silently ignores clients deleted since the probe.
func (s *Store) SetClientStatus(id string, status nsboot.ClientStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClients)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var c nsboot.Client
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		c.Status = status
		return put(b, id, c)
	})
}

func (s *Store) CreateMaster(m nsboot.Master) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMasters)
		if b.Get([]byte(m.Name)) != nil {
			return nsboot.Errorf(nsboot.ErrNameConflict, "master %q already exists", m.Name)
		}
		return put(b, m.Name, m)
	})
}

func (s *Store) Master(name string) (nsboot.Master, error) {
	var m nsboot.Master
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMasters).Get([]byte(name))
		if data == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "master %q not found", name)
		}
		return json.Unmarshal(data, &m)
	})
	return m, err
}

func (s *Store) Masters() ([]nsboot.Master, error) {
	var masters []nsboot.Master
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMasters).ForEach(func(k, v []byte) error {
			var m nsboot.Master
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			masters = append(masters, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(masters, func(i, j int) bool {
		return masters[i].Name < masters[j].Name
	})
	return masters, nil
}

func (s *Store) DeleteMaster(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMasters)
		if b.Get([]byte(name)) == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "master %q not found", name)
		}
		return b.Delete([]byte(name))
	})
}

// SetDefaultMaster flips the default flag in one transaction so there is
// never a point with zero or two defaults visible.
func (s *Store) SetDefaultMaster(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMasters)
		if b.Get([]byte(name)) == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "master %q not found", name)
		}
		// collect flips first, writing inside ForEach is undefined in bbolt
		type flip struct {
			key string
			m   nsboot.Master
		}
		var flips []flip
		err := b.ForEach(func(k, v []byte) error {
			var m nsboot.Master
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			want := string(k) == name
			if m.Default == want {
				return nil
			}
			m.Default = want
			flips = append(flips, flip{key: string(k), m: m})
			return nil
		})
		if err != nil {
			return err
		}
		for _, f := range flips {
			if err := put(b, f.key, f.m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AddSnapshot(masterName string, snap nsboot.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMasters)
		data := b.Get([]byte(masterName))
		if data == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "master %q not found", masterName)
		}
		var m nsboot.Master
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		for _, s := range m.Snapshots {
			if s.Name == snap.Name {
				return nsboot.Errorf(nsboot.ErrNameConflict, "snapshot %q already exists on master %q", snap.Name, masterName)
			}
		}
		m.Snapshots = append(m.Snapshots, snap)
		sort.Slice(m.Snapshots, func(i, j int) bool {
			return m.Snapshots[i].CreatedAt.Before(m.Snapshots[j].CreatedAt)
		})
		return put(b, masterName, m)
	})
}

func (s *Store) DeleteSnapshot(masterName, snapName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMasters)
		data := b.Get([]byte(masterName))
		if data == nil {
			return nsboot.Errorf(nsboot.ErrNotFound, "master %q not found", masterName)
		}
		var m nsboot.Master
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		idx := -1
		for i, s := range m.Snapshots {
			if s.Name == snapName {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nsboot.Errorf(nsboot.ErrNotFound, "snapshot %q not found on master %q", snapName, masterName)
		}
		m.Snapshots = append(m.Snapshots[:idx], m.Snapshots[idx+1:]...)
		return put(b, masterName, m)
	})
}

func (s *Store) SetPoolStats(ps nsboot.PoolStats) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketObserved), string(keyPoolStats), ps)
	})
}

func (s *Store) PoolStats() (nsboot.PoolStats, error) {
	var ps nsboot.PoolStats
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketObserved).Get(keyPoolStats)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &ps)
	})
	return ps, err
}

func (s *Store) SetServices(services map[string]nsboot.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketObserved), string(keyServices), services)
	})
}

func (s *Store) Services() (map[string]nsboot.Service, error) {
	services := map[string]nsboot.Service{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketObserved).Get(keyServices)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &services)
	})
	return services, err
}
