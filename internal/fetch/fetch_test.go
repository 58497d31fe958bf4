package fetch

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateURLSchemes(t *testing.T) {
	cases := []struct {
		url  string
		want error
	}{
		{"ftp://example.com/file", ErrUnsafeScheme},
		{"file:///etc/passwd", ErrUnsafeScheme},
		{"gopher://example.com", ErrUnsafeScheme},
		{"javascript:alert(1)", ErrUnsafeScheme},
	}
	for _, tc := range cases {
		if err := ValidateURL(tc.url); !errors.Is(err, tc.want) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tc.url, err, tc.want)
		}
	}
}

func TestValidateURLBlockedHosts(t *testing.T) {
	// WHAT: Literal IPs in private, loopback, link-local, and unspecified
	// ranges are rejected, as is the localhost name.
	// WHY: Monitor URLs are user input; a check must never reach internal
	// infrastructure.
	blocked := []string{
		"http://127.0.0.1/admin",
		"http://127.0.0.1:8080/",
		"https://localhost/secrets",
		"http://LOCALHOST/",
		"http://10.0.0.5/",
		"http://172.16.1.1/",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0/",
		"http://[::1]/",
		"http://[fe80::1]/",
	}
	for _, u := range blocked {
		if err := ValidateURL(u); !errors.Is(err, ErrBlockedURL) {
			t.Errorf("ValidateURL(%q) = %v, want ErrBlockedURL", u, err)
		}
	}
}

func TestValidateURLPublicIPAllowed(t *testing.T) {
	// Literal public IPs pass without DNS.
	for _, u := range []string{"http://93.184.216.34/", "https://[2606:2800:220:1:248:1893:25c8:1946]/"} {
		if err := ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestValidateURLMissingHost(t *testing.T) {
	if err := ValidateURL("http:///path-only"); err == nil {
		t.Fatal("missing host must fail")
	}
}

func TestReadCapped(t *testing.T) {
	body, err := readCapped(strings.NewReader("under the limit"), 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "under the limit" {
		t.Fatalf("got %q", body)
	}

	// Exactly at the limit is allowed.
	if _, err := readCapped(strings.NewReader(strings.Repeat("x", 100)), 100); err != nil {
		t.Fatalf("at-limit read failed: %v", err)
	}

	if _, err := readCapped(strings.NewReader(strings.Repeat("x", 101)), 100); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("got timeout %v", cfg.Timeout)
	}
	if cfg.MaxBodyBytes != defaultMaxBodyBytes {
		t.Fatalf("got max body %d", cfg.MaxBodyBytes)
	}
	if cfg.UserAgent != "vigil/1.0" {
		t.Fatalf("got user agent %q", cfg.UserAgent)
	}
	if cfg.Logger == nil {
		t.Fatal("logger must default")
	}
}
