package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", " 2001:db8::/32 ", ""})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "no trusted proxies ignores forwarded headers",
			remoteAddr: "198.51.100.10:1234",
			xff:        "203.0.113.5",
			xrip:       "203.0.113.6",
			want:       "198.51.100.10",
		},
		{
			name:       "trusted remote accepts x-forwarded-for",
			remoteAddr: "10.0.0.20:1234",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "trusted chain picks first untrusted from right",
			remoteAddr: "10.0.0.20:1234",
			xff:        "203.0.113.5, 10.0.0.10",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "falls back to x-real-ip when xff unusable",
			remoteAddr: "10.0.0.20:1234",
			xff:        "invalid",
			xrip:       "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "bare ip entry trusts only that address",
			remoteAddr: "192.168.1.11:1234",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "192.168.1.11",
		},
		{
			name:       "bare ip entry accepts forwarded header",
			remoteAddr: "192.168.1.10:1234",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "ipv6 prefix trusts proxy and returns ipv6 client",
			remoteAddr: "[2001:db8::1]:443",
			xff:        "2001:db9::42, 2001:db8:ffff::2",
			trusted:    trusted,
			want:       "2001:db9::42",
		},
		{
			name:       "ipv4-mapped peer matches ipv4 range",
			remoteAddr: "[::ffff:10.0.0.20]:1234",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "ipv4-mapped client is reported as ipv4",
			remoteAddr: "[::ffff:198.51.100.10]:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "unparseable remote is returned as is",
			remoteAddr: "pipe",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "pipe",
		},
		{
			name:       "all proxies trusted returns leftmost hop",
			remoteAddr: "10.0.0.20:1234",
			xff:        "10.0.0.5, 10.0.0.10",
			trusted:    trusted,
			want:       "10.0.0.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1"}); err != nil {
		t.Fatalf("expected valid entries, got err: %v", err)
	}
	for _, bad := range []string{"bad-cidr", "10.0.0.0/33", "2001:db8::/129", "300.1.1.1"} {
		if _, err := NewTrustedProxies([]string{bad}); err == nil {
			t.Fatalf("expected parse error for %q", bad)
		}
	}
	if tp, err := NewTrustedProxies([]string{" ", ""}); err != nil || tp != nil {
		t.Fatalf("expected nil set for blank entries, got %v err=%v", tp, err)
	}
}

func TestTrustedProxiesContains(t *testing.T) {
	// host bits in a prefix are masked off
	tp, err := NewTrustedProxies([]string{"10.1.2.3/8", "fe80::1"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}
	cases := map[string]bool{
		"10.200.0.1":      true,
		"11.0.0.1":        false,
		"::ffff:10.9.9.9": true,
		"fe80::1":         true,
		"fe80::2":         false,
		"2001:db8::1":     false,
	}
	for raw, want := range cases {
		if got := tp.Contains(netip.MustParseAddr(raw)); got != want {
			t.Fatalf("Contains(%s) = %v, want %v", raw, got, want)
		}
	}
	var none *TrustedProxies
	if none.Contains(netip.MustParseAddr("10.0.0.1")) {
		t.Fatalf("nil set should trust nothing")
	}
	if tp.Contains(netip.Addr{}) {
		t.Fatalf("invalid address should not be trusted")
	}
}
