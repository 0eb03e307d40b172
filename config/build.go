package config

import (
	"fmt"
	"net/netip"

	"github.com/soypat/ip4rt/internal"
	"github.com/soypat/ip4rt/router"
)

// Config is a parsed, validated router configuration ready to build live
// interfaces and a routing table from.
type Config struct {
	file File
}

// Parse validates a loaded File and wraps it as a Config. It does not touch
// the network; call Build to actually create interfaces.
func Parse(f File) (Config, error) {
	if len(f.Interfaces) == 0 {
		return Config{}, fmt.Errorf("config: no interfaces defined")
	}
	seen := make(map[string]bool, len(f.Interfaces))
	for _, idef := range f.Interfaces {
		if idef.Name == "" {
			return Config{}, fmt.Errorf("config: interface with empty name")
		}
		if seen[idef.Name] {
			return Config{}, fmt.Errorf("config: duplicate interface name %q", idef.Name)
		}
		seen[idef.Name] = true
	}
	for _, rdef := range f.Routes {
		if !seen[rdef.Interface] {
			return Config{}, fmt.Errorf("config: route references unknown interface %q", rdef.Interface)
		}
	}
	return Config{file: f}, nil
}

// Link pairs a live router interface with the raw reader its frames arrive
// on, so a caller can run a receive loop per interface (router.Transport
// itself only exposes Send, since the router core never reads on its own).
type Link struct {
	Iface  *router.Interface
	Reader interface{ Read([]byte) (int, error) }
	MTU    int
}

// Build creates live Transports for every configured interface (TAP devices
// or bridges to existing host interfaces, per each InterfaceDef's Backend),
// and assembles the immutable routing table and ARP state that back a
// [router.Router]. links pairs each resulting interface with its raw reader
// so the caller can run one receive loop per interface; rtable and arpState
// are meant to be handed straight to [router.NewRouter] alongside the
// interfaces extracted from links.
func (c Config) Build() (links []Link, rtable router.RoutingTable, arpState *router.ARPState, err error) {
	byName := make(map[string]*router.Interface, len(c.file.Interfaces))
	for _, idef := range c.file.Interfaces {
		hw, err := ParseHWAddr(idef.HW)
		if err != nil {
			return nil, router.RoutingTable{}, nil, err
		}
		ip, err := ParseIPv4(idef.IP)
		if err != nil {
			return nil, router.RoutingTable{}, nil, err
		}
		transport, reader, mtu, err := buildTransport(idef)
		if err != nil {
			return nil, router.RoutingTable{}, nil, fmt.Errorf("config: interface %q: %w", idef.Name, err)
		}
		iface := &router.Interface{Name: idef.Name, HWAddr: hw, IPAddr: ip, Transport: transport}
		byName[idef.Name] = iface
		links = append(links, Link{Iface: iface, Reader: reader, MTU: mtu})
	}

	entries := make([]router.RoutingEntry, 0, len(c.file.Routes))
	for _, rdef := range c.file.Routes {
		dest, mask, err := ParseCIDR(rdef.Destination)
		if err != nil {
			return nil, router.RoutingTable{}, nil, err
		}
		var gw [4]byte
		if rdef.Gateway != "" {
			gw, err = ParseIPv4(rdef.Gateway)
			if err != nil {
				return nil, router.RoutingTable{}, nil, err
			}
		}
		entries = append(entries, router.RoutingEntry{
			Destination: dest,
			Mask:        mask,
			Gateway:     gw,
			Iface:       byName[rdef.Interface],
		})
	}
	rtable = router.NewRoutingTable(entries)

	capacity := c.file.ArpCacheCapacity
	if capacity <= 0 {
		capacity = router.DefaultARPCacheCapacity
	}
	ttl := c.file.ArpCacheTTLSecs
	if ttl <= 0 {
		ttl = router.DefaultARPCacheTTLSeconds
	}
	arpState = router.NewARPState(capacity, ttl)
	return links, rtable, arpState, nil
}

// transport adapts internal.Tap / internal.Bridge (which expose Read/Write)
// to the single-method router.Transport interface.
type transport struct {
	w interface{ Write([]byte) (int, error) }
}

func (t transport) Send(buf []byte) error {
	_, err := t.w.Write(buf)
	return err
}

func buildTransport(idef InterfaceDef) (t router.Transport, reader interface{ Read([]byte) (int, error) }, mtu int, err error) {
	switch idef.Backend {
	case "tap":
		tap, err := internal.NewTap(idef.Link, netip.Prefix{})
		if err != nil {
			return nil, nil, 0, fmt.Errorf("creating tap device %q: %w", idef.Link, err)
		}
		mtu, err = tap.MTU()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("reading tap mtu: %w", err)
		}
		return transport{w: tap}, tap, mtu, nil
	case "bridge":
		br, err := internal.NewBridge(idef.Link)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("bridging to %q: %w", idef.Link, err)
		}
		mtu, err = br.MTU()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("reading bridge mtu: %w", err)
		}
		return transport{w: br}, br, mtu, nil
	default:
		return nil, nil, 0, fmt.Errorf("unknown backend %q (want \"tap\" or \"bridge\")", idef.Backend)
	}
}
