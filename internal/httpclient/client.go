// Package httpclient provides the guarded HTTP client used for outbound
// provider traffic. Requests are validated before they leave the process
// and can be routed through a forward proxy endpoint.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/vouch/errors"
)

// Client wraps http.Client with outbound-request guards: a scheme
// allowlist, a redirect cap, and a private-address dial guard for
// direct connections.
type Client struct {
	*http.Client
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
}

// New creates a client with a total-request timeout. A non-nil proxyURL
// routes every request through that forward proxy; the private-address
// dial guard is skipped in that case because the proxy resolves targets
// itself and proxies commonly live on private networks.
func New(timeout time.Duration, proxyURL *url.URL) *Client {
	client := &Client{
		Client: &http.Client{
			Timeout: timeout,
		},
		allowedSchemes: []string{"http", "https"},
		blockPrivateIP: proxyURL == nil,
		maxRedirects:   5,
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= client.maxRedirects {
			return errors.Newf("stopped after %d redirects", client.maxRedirects)
		}
		if err := client.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if client.blockPrivateIP {
		transport.DialContext = guardedDialContext(dialer)
	}

	client.Transport = transport
	return client
}

// guardedDialContext resolves the target host and refuses private or
// special-use addresses before dialing.
func guardedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address")
		}

		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve host %q", host)
		}

		for _, ip := range ips {
			if isPrivateIP(ip) {
				return nil, errors.Newf("private address blocked: %s", ip)
			}
		}

		return dialer.DialContext(ctx, network, addr)
	}
}

// validateURL rejects URLs the client must never fetch.
func (c *Client) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// http://evil.com@localhost/ style confusion
	if strings.Contains(u.String(), "@") {
		return errors.New("URL contains @ character")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.blockPrivateIP {
		if isLocalhost(hostname) {
			return errors.New("localhost access blocked")
		}
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return errors.Newf("private address blocked: %s", hostname)
		}
	}

	return nil
}

// ValidateURL validates a URL string before creating a request.
func (c *Client) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// isPrivateIP reports whether ip is private or special-use: RFC 1918 and
// RFC 4193 ranges, loopback, link-local, multicast, unspecified.
func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

// isLocalhost checks for localhost name variants.
func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

// Do executes an HTTP request after validating its URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// WrapClient wraps an existing http.Client without the private-address
// guards. Only for tests that target httptest servers on localhost.
func WrapClient(client *http.Client) *Client {
	return &Client{
		Client:         client,
		allowedSchemes: []string{"http", "https"},
		blockPrivateIP: false,
		maxRedirects:   5,
	}
}
