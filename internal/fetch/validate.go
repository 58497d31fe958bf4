package fetch

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedURL is returned when a URL targets a private, loopback, or
// link-local address.
var ErrBlockedURL = errors.New("fetch: URL targets a private or loopback address")

// ErrUnsafeScheme is returned for non-HTTP(S) schemes.
var ErrUnsafeScheme = errors.New("fetch: only http and https schemes are allowed")

// ValidateURL rejects non-HTTP(S) schemes and hosts that resolve to
// private, loopback, or link-local addresses. Applied before the initial
// request and again on every redirect hop.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("fetch: parse URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("fetch: missing host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}
	if strings.EqualFold(host, "localhost") {
		return ErrBlockedURL
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("fetch: resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return ErrBlockedURL
	}
	return nil
}
