package nsboot

import "time"

// ClientStatus is observed by the poller, never set by callers.
type ClientStatus string

const (
	StatusOnline  ClientStatus = "Online"
	StatusOffline ClientStatus = "Offline"
	StatusUnknown ClientStatus = "Unknown"
)

// ClientMode is derived from the snapshot reference: a client without a
// snapshot writes to its own clone of the master directly.
type ClientMode string

const (
	ModeMaster ClientMode = "master"
	ModeClone  ClientMode = "clone"
)

type Client struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	MAC         string       `json:"mac"`
	IP          string       `json:"ip"`
	Master      string       `json:"master"`
	Snapshot    string       `json:"snapshot,omitempty"`
	CloneDevice string       `json:"clone_device,omitempty"`
	TargetIQN   string       `json:"target_iqn,omitempty"`
	BlockStore  string       `json:"block_store,omitempty"`
	Status      ClientStatus `json:"status"`
	Mode        ClientMode   `json:"mode"`
	CreatedAt   time.Time    `json:"created_at"`
	ModifiedAt  time.Time    `json:"last_modified"`
}

type Master struct {
	Name      string     `json:"name"`
	Size      string     `json:"size"`
	Default   bool       `json:"is_default"`
	CreatedAt time.Time  `json:"created_at"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Snapshot names are bare, scoped to their master. The qualified
// master@snapshot form only exists at the ZFS and HTTP boundaries.
type Snapshot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Used      uint64    `json:"used"`
}

type Service struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Unit         string `json:"unit"`
	Status       string `json:"status"`
	Installed    bool   `json:"installed"`
	Foundational bool   `json:"foundational"`
}

type PoolStats struct {
	Name      string `json:"name"`
	Size      uint64 `json:"size"`
	Used      uint64 `json:"used"`
	Available uint64 `json:"available"`
}

type MemStats struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	Free      uint64 `json:"free"`
	Shared    uint64 `json:"shared"`
	BuffCache uint64 `json:"buff_cache"`
	Available uint64 `json:"available"`
}

type SwapStats struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

type RAMStats struct {
	Memory MemStats  `json:"memory"`
	Swap   SwapStats `json:"swap"`
}

type ServerStatus struct {
	Address  string    `json:"address"`
	Pool     PoolStats `json:"pool"`
	Clients  int       `json:"clients"`
	Masters  int       `json:"masters"`
	Snaps    int       `json:"snaps"`
	Load1    float64   `json:"load_1"`
	Load5    float64   `json:"load_5"`
	Load15   float64   `json:"load_15"`
	FreeMem  uint64    `json:"free_mem"`
	TotalMem uint64    `json:"total_mem"`
	UsedMem  uint64    `json:"used_mem"`
}

type Disk struct {
	Name  string `json:"name"`
	Size  string `json:"size"`
	Model string `json:"model"`
}

// ClientAction is the finite set of power actions dispatched through
// ControlClient.
type ClientAction string

const (
	ActionReboot   ClientAction = "reboot"
	ActionShutdown ClientAction = "shutdown"
	ActionWake     ClientAction = "wake"
	ActionReset    ClientAction = "reset"
)

type ServiceAction string

const (
	ServiceStart   ServiceAction = "start"
	ServiceStop    ServiceAction = "stop"
	ServiceRestart ServiceAction = "restart"
)

type AddClientRequest struct {
	Name     string `json:"name"`
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Master   string `json:"master"`
	Snapshot string `json:"snapshot,omitempty"`
}

type CreateMasterRequest struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

type Message struct {
	Message string `json:"message"`
}
