// Package validate holds the pure input checks run before any mutation
// reaches the store. The console runs its own advisory copies of these,
// they are re-enforced here since consoles race each other.
package validate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nsboot/nsboot"
)

var (
	macReg  = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
	ipReg   = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	nameReg = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func MAC(mac string) error {
	if !macReg.MatchString(mac) {
		return nsboot.Errorf(nsboot.ErrValidation, "invalid MAC address format: %q", mac)
	}
	// mixed delimiters are rejected, a single style is required
	if strings.Contains(mac, ":") && strings.Contains(mac, "-") {
		return nsboot.Errorf(nsboot.ErrValidation, "invalid MAC address format: %q, mixed delimiters", mac)
	}
	return nil
}

// CanonicalMAC returns the storage form, uppercase and colon separated.
func CanonicalMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
}

// IP checks dotted-quad form plus the numeric octet range, the regex alone
// under-validates.
func IP(ip string) error {
	if !ipReg.MatchString(ip) {
		return nsboot.Errorf(nsboot.ErrValidation, "invalid IP address format: %q", ip)
	}
	for _, octet := range strings.Split(ip, ".") {
		n, err := strconv.Atoi(octet)
		if err != nil || n > 255 {
			return nsboot.Errorf(nsboot.ErrValidation, "invalid IP address: %q, octet %s out of range", ip, octet)
		}
	}
	return nil
}

// Name keeps master and client names ZFS- and filesystem-safe.
func Name(name string) error {
	if strings.TrimSpace(name) == "" {
		return nsboot.Errorf(nsboot.ErrValidation, "name must not be empty")
	}
	if !nameReg.MatchString(name) {
		return nsboot.Errorf(nsboot.ErrValidation, "invalid name %q, use alphanumeric, _ or -", name)
	}
	return nil
}

// Client validates an add/edit payload shape. Relationship and uniqueness
// checks against live records happen in the engine and store.
func Client(req nsboot.AddClientRequest) error {
	if err := Name(req.Name); err != nil {
		return err
	}
	if err := MAC(req.MAC); err != nil {
		return err
	}
	if err := IP(req.IP); err != nil {
		return err
	}
	if strings.TrimSpace(req.Master) == "" {
		return nsboot.Errorf(nsboot.ErrValidation, "master image is required")
	}
	return nil
}
