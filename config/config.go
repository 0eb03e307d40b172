// Package config loads a router's interface set and routing table from a
// YAML file, independent of any particular transport implementation.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level shape of a router configuration file.
type File struct {
	ArpCacheCapacity int            `yaml:"arp_cache_capacity"`
	ArpCacheTTLSecs  int64          `yaml:"arp_cache_ttl_seconds"`
	Interfaces       []InterfaceDef `yaml:"interfaces"`
	Routes           []RouteDef     `yaml:"routes"`
}

// InterfaceDef describes one of the router's own network attachments.
type InterfaceDef struct {
	Name string `yaml:"name"`
	HW   string `yaml:"hw_addr"` // e.g. "aa:bb:cc:dd:ee:01"
	IP   string `yaml:"ip_addr"` // e.g. "10.0.0.1"
	// Backend names the transport to bind the interface to: "tap" creates a
	// new TAP device, "bridge" attaches to an existing host interface by
	// name (see Link below).
	Backend string `yaml:"backend"`
	// Link is the TAP device name to create, or the host interface name to
	// bridge to, depending on Backend.
	Link string `yaml:"link"`
}

// RouteDef is one static routing table entry.
type RouteDef struct {
	Destination string `yaml:"destination"` // CIDR, e.g. "20.0.0.0/8"
	Gateway     string `yaml:"gateway"`     // "0.0.0.0" for directly attached
	Interface   string `yaml:"interface"`   // must match an InterfaceDef.Name
}

// Load reads and parses a YAML router configuration from path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return f, nil
}

// ParseHWAddr parses a colon-separated MAC address into a 6-byte array.
func ParseHWAddr(s string) ([6]byte, error) {
	var out [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return out, fmt.Errorf("config: bad hardware address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return out, fmt.Errorf("config: hardware address %q is not 6 bytes", s)
	}
	copy(out[:], hw)
	return out, nil
}

// ParseIPv4 parses a dotted-quad IPv4 address into a 4-byte array.
func ParseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return out, fmt.Errorf("config: bad IPv4 address %q: %w", s, err)
	}
	if !addr.Is4() {
		return out, fmt.Errorf("config: %q is not an IPv4 address", s)
	}
	out = addr.As4()
	return out, nil
}

// ParseCIDR parses a CIDR string into its destination and mask, both as
// 4-byte IPv4 arrays.
func ParseCIDR(s string) (dest, mask [4]byte, err error) {
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return dest, mask, fmt.Errorf("config: bad CIDR %q: %w", s, err)
	}
	if !prefix.Addr().Is4() {
		return dest, mask, fmt.Errorf("config: %q is not an IPv4 prefix", s)
	}
	dest = prefix.Masked().Addr().As4()
	bits := prefix.Bits()
	for i := 0; i < bits; i++ {
		mask[i/8] |= 1 << (7 - uint(i%8))
	}
	return dest, mask, nil
}
