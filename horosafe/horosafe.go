// Package horosafe holds the safety checks applied at the overlay's
// outbound edges: endpoint validation (email content must not leave the
// machine unless explicitly allowed) and bounded response reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxResponseBody is the default cap for backend response reads (1 MiB).
const MaxResponseBody int64 = 1 << 20

// ErrRemoteEndpoint is returned when an endpoint is not a loopback address
// and remote endpoints were not allowed.
var ErrRemoteEndpoint = errors.New("horosafe: endpoint is not on the loopback interface")

// ErrUnsafeScheme is returned when an endpoint uses a scheme outside the
// allowed set.
var ErrUnsafeScheme = errors.New("horosafe: scheme not allowed")

// ValidateEndpoint checks that rawURL uses one of schemes and has a host.
// Unless allowRemote is set, the host must be "localhost" or a loopback IP.
// No DNS resolution is performed.
func ValidateEndpoint(rawURL string, allowRemote bool, schemes ...string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	ok := false
	for _, s := range schemes {
		if scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsafeScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if allowRemote || IsLoopback(host) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRemoteEndpoint, host)
}

// IsLoopback reports whether host is "localhost" or a loopback IP literal.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LimitedReadAll reads at most maxBytes from r and fails when r holds more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}
