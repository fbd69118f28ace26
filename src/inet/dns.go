package inet

import "sabos/src/defs"

/// dnsTable is a static hosts-file stand-in: there is no recursive
/// resolver or upstream server reachable from the hosted simulator's
/// single loopback segment, so dns_lookup answers from a small fixed
/// table instead, matching how net_get_mac and TcpConnect already treat
/// this host as its own entire network.
var dnsTable = map[string]IP_t{
	"localhost": {127, 0, 0, 1},
}

/// DnsLookup resolves name to an address, or NotFound if it isn't one of
/// the handful of names this host knows about.
func (s *State_t) DnsLookup(name string) (IP_t, defs.Err_t) {
	if ip, ok := dnsTable[name]; ok {
		return ip, 0
	}
	return IP_t{}, defs.NotFound
}
