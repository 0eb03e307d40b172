package router

// Transport is the external collaborator responsible for emitting frames on
// a physical or virtual link. Send may block on the underlying socket and
// may fail transiently; it must not retain buf after returning.
type Transport interface {
	Send(buf []byte) error
}

// Interface is an immutable descriptor for one of the router's own network
// attachments. Interfaces are created once at startup (see the config
// package's Config.Build) and never mutated or reallocated afterwards, so a
// *Interface handed out by the router context remains valid for the
// router's lifetime; routing-table entries and pending-ARP entries hold on
// to these pointers as non-owning references.
type Interface struct {
	Name      string
	HWAddr    [6]byte
	IPAddr    [4]byte
	Transport Transport
}

func (iface *Interface) send(frame []byte) error {
	err := iface.Transport.Send(frame)
	if err != nil {
		transportSendErrs.WithLabelValues(iface.Name).Inc()
	}
	return err
}
