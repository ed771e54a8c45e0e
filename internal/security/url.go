// Package security holds the input checks applied before labkit touches the
// filesystem or the network on a learner's or operator's behalf.
package security

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// CheckEndpoint verifies that rawURL is an http(s) URL suitable for outbound
// requests. Unless allowPrivate is set it rejects localhost, loopback,
// private, link-local and unspecified addresses.
func CheckEndpoint(rawURL string, allowPrivate bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}

	if allowPrivate {
		return nil
	}

	hostLower := strings.ToLower(host)
	if hostLower == "localhost" || hostLower == "localhost.localdomain" {
		return fmt.Errorf("requests to localhost are not allowed")
	}

	// Hostnames are not resolved here.
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("requests to loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("requests to private network addresses are not allowed")
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("requests to link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("requests to unspecified addresses are not allowed")
	}

	return nil
}

var labNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidLabName reports whether name can be used as a single path segment
// under the labs root.
func ValidLabName(name string) bool {
	return labNamePattern.MatchString(name) && !strings.Contains(name, "..")
}
