package httputil

import (
	"net/http"
	"testing"
)

func TestClientIPRemoteAddr(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:12345", "192.168.1.1"},
		{"[::1]:12345", "::1"},
		{"192.168.1.1", "192.168.1.1"},
	}
	for _, tt := range tests {
		r := &http.Request{RemoteAddr: tt.remoteAddr}
		if got := ClientIP(r, false); got != tt.want {
			t.Errorf("ClientIP(%q, false) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestClientIPHeaders(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		xff, xri   string
		remoteAddr string
		want       string
	}{
		{"XFF single IP", true, "1.2.3.4", "", "10.0.0.1:1234", "1.2.3.4"},
		{"XFF multiple IPs takes first", true, "1.2.3.4, 10.0.0.1, 10.0.0.2", "", "10.0.0.3:1234", "1.2.3.4"},
		{"X-Real-IP fallback", true, "", "5.6.7.8", "10.0.0.1:1234", "5.6.7.8"},
		{"XFF takes precedence over X-Real-IP", true, "1.2.3.4", "5.6.7.8", "10.0.0.1:1234", "1.2.3.4"},
		{"empty XFF entry falls through", true, " , 9.9.9.9", "5.6.7.8", "10.0.0.1:1234", "5.6.7.8"},
		{"no proxy headers falls back to RemoteAddr", true, "", "", "10.0.0.1:1234", "10.0.0.1"},
		{"headers ignored when not trusted", false, "1.2.3.4", "5.6.7.8", "10.0.0.1:1234", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(r, tt.trust); got != tt.want {
				t.Errorf("ClientIP(trustProxy=%v) = %q, want %q", tt.trust, got, tt.want)
			}
		})
	}
}

func TestIsPublicIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"8.8.8.8", true},
		{"2001:4860:4860::8888", true},
		{"::ffff:8.8.4.4", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"192.168.0.10", false},
		{"169.254.1.1", false},
		{"fd00::1", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := IsPublicIP(tt.ip); got != tt.want {
				t.Errorf("IsPublicIP(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
