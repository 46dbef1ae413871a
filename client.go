package nsboot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// API talks to a nsbootd server. It is what the CLI uses and what any
// other console is expected to look like: one call per intent, typed
// failures, no state inference beyond what the server returns.
type API struct {
	hc     *http.Client
	server string
}

func NewAPI(hc *http.Client, server string) *API {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &API{hc: hc, server: server}
}

func (c *API) Server() string {
	return c.server
}

func statusKind(code int) ErrorKind {
	switch code {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrNameConflict
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusInsufficientStorage:
		return ErrCapacityExceeded
	case http.StatusNotImplemented:
		return ErrUnsupported
	case http.StatusGatewayTimeout:
		return ErrProvisioningTimeout
	default:
		return ErrProvisioningFailed
	}
}

func (c *API) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", c.server, path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e Error
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			if e.Kind == "" {
				e.Kind = statusKind(res.StatusCode)
			}
			return &e
		}
		return Errorf(statusKind(res.StatusCode), "did not get status code 2xx, got %d", res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *API) Status() (*ServerStatus, error) {
	var status ServerStatus
	err := c.do("GET", "/status", nil, &status)
	return &status, err
}

func (c *API) GetClients() ([]Client, error) {
	var clients []Client
	err := c.do("GET", "/clients", nil, &clients)
	return clients, err
}

func (c *API) GetMasters() ([]Master, error) {
	var masters []Master
	err := c.do("GET", "/masters", nil, &masters)
	return masters, err
}

func (c *API) GetServices() (map[string]Service, error) {
	var services map[string]Service
	err := c.do("GET", "/services", nil, &services)
	return services, err
}

func (c *API) AddClient(req AddClientRequest) (*Message, error) {
	var msg Message
	err := c.do("POST", "/clients", req, &msg)
	return &msg, err
}

func (c *API) EditClient(id string, req AddClientRequest) (*Message, error) {
	var msg Message
	err := c.do("POST", fmt.Sprintf("/clients/edit/%s", url.PathEscape(id)), req, &msg)
	return &msg, err
}

func (c *API) DeleteClient(id string) (*Message, error) {
	var msg Message
	err := c.do("DELETE", fmt.Sprintf("/clients/%s", url.PathEscape(id)), nil, &msg)
	return &msg, err
}

func (c *API) ControlClient(id string, action ClientAction) (*Message, error) {
	var msg Message
	err := c.do("POST", fmt.Sprintf("/clients/%s/control", url.PathEscape(id)), map[string]ClientAction{"action": action}, &msg)
	return &msg, err
}

func (c *API) CreateMaster(name, size string) (*Message, error) {
	var msg Message
	err := c.do("POST", "/masters", CreateMasterRequest{Name: name, Size: size}, &msg)
	return &msg, err
}

func (c *API) DeleteMaster(name string) (*Message, error) {
	var msg Message
	err := c.do("DELETE", fmt.Sprintf("/masters/%s", url.PathEscape(name)), nil, &msg)
	return &msg, err
}

func (c *API) SetDefaultMaster(name string) (*Message, error) {
	var msg Message
	err := c.do("POST", "/masters/default", map[string]string{"name": name}, &msg)
	return &msg, err
}

// CreateSnapshot takes the qualified master@snapshot form, the only place
// outside the ZFS boundary where it appears.
func (c *API) CreateSnapshot(qualified string) (*Message, error) {
	var msg Message
	err := c.do("POST", "/snapshots", map[string]string{"name": qualified}, &msg)
	return &msg, err
}

func (c *API) DeleteSnapshot(qualified string) (*Message, error) {
	var msg Message
	err := c.do("DELETE", fmt.Sprintf("/snapshots/%s", url.PathEscape(qualified)), nil, &msg)
	return &msg, err
}

func (c *API) ControlService(key string, action ServiceAction) (*Message, error) {
	var msg Message
	err := c.do("POST", fmt.Sprintf("/services/%s/control", url.PathEscape(key)), map[string]ServiceAction{"action": action}, &msg)
	return &msg, err
}

func (c *API) GetServiceConfig(key string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.do("GET", fmt.Sprintf("/services/%s/config", url.PathEscape(key)), nil, &out)
	return out.Text, err
}

func (c *API) SaveServiceConfig(key, content string) (*Message, error) {
	var msg Message
	err := c.do("POST", fmt.Sprintf("/services/%s/config", url.PathEscape(key)), map[string]string{"text": content}, &msg)
	return &msg, err
}

func (c *API) InstallService(key string) (*Message, error) {
	var msg Message
	err := c.do("POST", fmt.Sprintf("/services/%s/install", url.PathEscape(key)), nil, &msg)
	return &msg, err
}

func (c *API) RAMStats() (*RAMStats, error) {
	var stats RAMStats
	err := c.do("GET", "/system/ram", nil, &stats)
	return &stats, err
}

func (c *API) ClearRAMCache() (*Message, error) {
	var msg Message
	err := c.do("POST", "/system/ram/clear", nil, &msg)
	return &msg, err
}

func (c *API) ListDisks() ([]Disk, error) {
	var disks []Disk
	err := c.do("GET", "/system/disks", nil, &disks)
	return disks, err
}

func (c *API) CreatePool(name, disk string) (*Message, error) {
	var msg Message
	err := c.do("POST", "/system/pool", map[string]string{"name": name, "disk": disk}, &msg)
	return &msg, err
}
