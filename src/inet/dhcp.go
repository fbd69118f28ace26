package inet

import "sabos/src/defs"

/// Lease_t is the handful of fields a DHCP discover/offer/ack exchange
/// yields in practice; the three-way handshake itself collapses to one
/// call because there is exactly one server (this host) and exactly one
/// client (the caller) on the simulated segment.
type Lease_t struct {
	Address IP_t
	Gateway IP_t
	Netmask IP_t
	LeaseMs uint64
}

const defaultLeaseMs = 3600 * 1000

/// DhcpDiscover hands back a canned lease drawn from a small private
/// pool, incrementing through it so repeated callers within one boot get
/// distinct addresses instead of all colliding on the same one.
func (s *State_t) DhcpDiscover() (Lease_t, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := IP_t{192, 168, 100, byte(100 + s.dhcpLeased)}
	s.dhcpLeased++
	return Lease_t{
		Address: addr,
		Gateway: IP_t{192, 168, 100, 1},
		Netmask: IP_t{255, 255, 255, 0},
		LeaseMs: defaultLeaseMs,
	}, 0
}
