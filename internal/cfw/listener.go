package cfw

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
)

// matchRestrict reports whether ip satisfies a dotted-quad allowlist where a
// "0" octet is a wildcard (§6 `sip.restrict`). An empty or all-zero pattern
// allows everything.
func matchRestrict(pattern, ip string) bool {
	if pattern == "" || pattern == "0.0.0.0" {
		return true
	}
	pOctets := strings.Split(pattern, ".")
	iOctets := strings.Split(ip, ".")
	if len(pOctets) != 4 || len(iOctets) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if pOctets[i] != "0" && pOctets[i] != iOctets[i] {
			return false
		}
	}
	return true
}

// listen opens the transport listener on addr, wrapping it in TLS when
// tlsConfig is non-nil (§4.1). The caller must run acceptLoop.
func listen(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		return tls.NewListener(ln, tlsConfig), nil
	}
	return ln, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
