package tools

import (
	"context"
	"testing"
)

func TestValidateURLRejectsPrivateHosts(t *testing.T) {
	cases := []string{
		"http://127.0.0.1/admin",
		"http://localhost/admin",
		"http://10.0.0.5/",
		"http://172.16.3.4/",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
		"http://[::ffff:10.0.0.5]/",
		"http://[fd00::1]/",
		"http://[fe80::1]/",
		"http://0.0.0.0/",
	}
	for _, raw := range cases {
		if err := ValidateURL(context.Background(), raw, nil); err == nil {
			t.Errorf("expected %s to be rejected", raw)
		}
	}
}

func TestValidateURLRejectsNonHTTPSchemes(t *testing.T) {
	for _, raw := range []string{"file:///etc/passwd", "ftp://example.com/x", "gopher://example.com/"} {
		if err := ValidateURL(context.Background(), raw, nil); err == nil {
			t.Errorf("expected %s to be rejected", raw)
		}
	}
}

func TestDomainAllowlistMatching(t *testing.T) {
	cases := []struct {
		patterns []string
		host     string
		want     bool
	}{
		{[]string{"*"}, "anything.example", true},
		{[]string{"*.example.com"}, "example.com", true},
		{[]string{"*.example.com"}, "docs.example.com", true},
		{[]string{"*.example.com"}, "evil-example.com", false},
		{[]string{"example.com"}, "example.com", true},
		{[]string{"example.com"}, "sub.example.com", true},
		{[]string{"example.com"}, "otherexample.com", false},
		{nil, "example.com", false},
	}
	for _, tc := range cases {
		if got := DomainAllowlist(tc.patterns).Allows(tc.host); got != tc.want {
			t.Errorf("Allows(%v, %q) = %v, want %v", tc.patterns, tc.host, got, tc.want)
		}
	}
}

func TestCheckIPIsPublicAcceptsPublicAddress(t *testing.T) {
	if err := checkSSRF("http://93.184.216.34/"); err != nil {
		t.Fatalf("public literal address should pass: %v", err)
	}
}
