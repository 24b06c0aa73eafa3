// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import (
	"fmt"
	"net"
	"strings"
)

// An Endpoint describes the address of the supervisor transport a worker
// connects to: a filesystem path for a local socket, or a host/port pair for
// TCP.
type Endpoint struct {
	Network string // "unix", "tcp4", or "tcp6"
	Address string // target in the form accepted by net.Dial
}

func (e *Endpoint) String() string { return e.Network + "://" + e.Address }

// ParseEndpoint parses an endpoint string from the launch arguments to guess
// a network type and target.
//
// If s does not have the form [host]:port, the network is assigned as "unix".
// The network "unix" is also assigned if port == "", port contains characters
// other than ASCII letters, digits, and "-", or if host contains a "/".
// Otherwise the network is assigned as "tcp4". Note that this function does
// not verify whether the address is lexically valid.
func ParseEndpoint(s string) (*Endpoint, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return &Endpoint{Network: "unix", Address: s}, nil
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) || strings.IndexByte(host, '/') >= 0 {
		return &Endpoint{Network: "unix", Address: s}, nil
	}
	return &Endpoint{Network: "tcp4", Address: s}, nil
}

// TupleEndpoint builds an endpoint from an address tuple in the form the
// supervisor hands to a spawned worker: (host, port) selects IPv4, and
// (host, port, flowinfo, scopeid) selects IPv6. Any other arity reports
// ErrInvalidEndpoint.
func TupleEndpoint(parts ...string) (*Endpoint, error) {
	switch len(parts) {
	case 2:
		return &Endpoint{Network: "tcp4", Address: net.JoinHostPort(parts[0], parts[1])}, nil
	case 4:
		host := parts[0]
		if scope := parts[3]; scope != "" && scope != "0" {
			host += "%" + scope
		}
		return &Endpoint{Network: "tcp6", Address: net.JoinHostPort(host, parts[1])}, nil
	default:
		return nil, fmt.Errorf("%w: %d-element tuple", ErrInvalidEndpoint, len(parts))
	}
}

// isServiceName reports whether s looks like a legal service name from the
// services(5) file. The grammar of such names is not well-defined, but for
// our purposes it includes letters, digits, and "-".
func isServiceName(s string) bool {
	for _, b := range s {
		if b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b == '-' {
			continue
		}
		return false
	}
	return true
}
