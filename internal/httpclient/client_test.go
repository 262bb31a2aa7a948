package httpclient

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	client := New(30*time.Second, nil)

	if client == nil {
		t.Fatal("New returned nil")
	}
	if client.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", client.Timeout)
	}
	if client.maxRedirects != 5 {
		t.Errorf("Expected maxRedirects 5, got %d", client.maxRedirects)
	}
	if !client.blockPrivateIP {
		t.Error("Expected direct client to block private addresses")
	}
}

func TestNew_WithProxy(t *testing.T) {
	proxyURL := &url.URL{Scheme: "http", Host: "squid.example.com:3128"}
	client := New(30*time.Second, proxyURL)

	if client.blockPrivateIP {
		t.Error("Expected proxied client to skip the private-address guard")
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Expected *http.Transport, got %T", client.Transport)
	}
	if transport.Proxy == nil {
		t.Fatal("Expected proxy function to be set")
	}

	req, err := http.NewRequest("GET", "http://provider.example.com/v1/verifications", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := transport.Proxy(req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Host != "squid.example.com:3128" {
		t.Errorf("Expected requests routed via squid.example.com:3128, got %v", got)
	}
}

func TestValidateURL(t *testing.T) {
	client := New(30*time.Second, nil)

	tests := []struct {
		name        string
		url         string
		shouldErr   bool
		errContains string
	}{
		{
			name:      "valid HTTPS URL",
			url:       "https://example.com/path",
			shouldErr: false,
		},
		{
			name:      "valid HTTP URL",
			url:       "http://example.com",
			shouldErr: false,
		},
		{
			name:        "file scheme blocked",
			url:         "file:///etc/passwd",
			shouldErr:   true,
			errContains: "scheme",
		},
		{
			name:        "ftp scheme blocked",
			url:         "ftp://example.com",
			shouldErr:   true,
			errContains: "scheme",
		},
		{
			name:        "localhost blocked",
			url:         "http://localhost/admin",
			shouldErr:   true,
			errContains: "localhost",
		},
		{
			name:        "localhost subdomain blocked",
			url:         "http://admin.localhost/",
			shouldErr:   true,
			errContains: "localhost",
		},
		{
			name:        "loopback literal blocked",
			url:         "http://127.0.0.1/",
			shouldErr:   true,
			errContains: "private address",
		},
		{
			name:        "10.x private network blocked",
			url:         "http://10.0.0.1/",
			shouldErr:   true,
			errContains: "private address",
		},
		{
			name:        "192.168.x private network blocked",
			url:         "http://192.168.1.1/",
			shouldErr:   true,
			errContains: "private address",
		},
		{
			name:        "link-local blocked",
			url:         "http://169.254.169.254/latest/meta-data/",
			shouldErr:   true,
			errContains: "private address",
		},
		{
			name:        "credential confusion blocked",
			url:         "http://evil.com@localhost/",
			shouldErr:   true,
			errContains: "@",
		},
		{
			name:        "missing hostname",
			url:         "http:///path-only",
			shouldErr:   true,
			errContains: "hostname",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.shouldErr {
				if err == nil {
					t.Errorf("Expected error for %s, got none", tt.url)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Expected error containing %q, got %q", tt.errContains, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error for %s, got %v", tt.url, err)
			}
		})
	}
}

func TestValidateURL_ProxiedClientAllowsPrivateTargets(t *testing.T) {
	proxyURL := &url.URL{Scheme: "http", Host: "10.0.0.5:8080"}
	client := New(30*time.Second, proxyURL)

	// The forward proxy resolves targets; private literals must pass here
	if _, err := client.ValidateURL("http://192.168.1.1/"); err != nil {
		t.Errorf("Expected proxied client to allow private target, got %v", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"::1", true},
		{"fe80::1", true},
		{"fc00::1", true},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP %s", tt.ip)
			}
			if got := isPrivateIP(ip); got != tt.private {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
			}
		})
	}
}

func TestDo_BlocksPrivateTarget(t *testing.T) {
	client := New(5*time.Second, nil)

	req, err := http.NewRequest("GET", "http://127.0.0.1:9/", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Do(req); err == nil {
		t.Error("Expected Do to refuse a loopback target")
	}
}

func TestWrapClient_AllowsLocalhost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := WrapClient(server.Client())

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Expected wrapped client to reach httptest server, got %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestRedirectCap(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	client := WrapClient(server.Client())

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("Expected redirect loop to be cut off")
	}
	if !strings.Contains(err.Error(), "redirects") {
		t.Errorf("Expected redirect-cap error, got %v", err)
	}
}
