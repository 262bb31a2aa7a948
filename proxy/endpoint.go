// Package proxy manages the pool of egress endpoints verification
// traffic rotates through. Endpoint membership comes from a list file;
// health bookkeeping survives restarts via sqlite.
package proxy

import (
	"bufio"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/teranos/vouch/errors"
)

// Endpoint is one egress proxy
type Endpoint struct {
	Address  string `json:"address"` // host:port
	Username string `json:"-"`
	Password string `json:"-"`
}

// URL returns the endpoint as an HTTP proxy URL with credentials
func (e *Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: e.Address}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// String returns the address only, safe for logs
func (e *Endpoint) String() string {
	return e.Address
}

// ParseError describes one rejected proxy list line
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e ParseError) Error() string {
	return errors.Wrapf(e.Err, "line %d", e.Line).Error()
}

// ParseLine parses one proxy list row of the form
//
//	host:port[:user:pass]
func ParseLine(line string) (*Endpoint, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) != 2 && len(parts) != 4 {
		return nil, errors.Newf("expected host:port or host:port:user:pass, got %d fields", len(parts))
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return nil, errors.New("host is empty")
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || port < 1 || port > 65535 {
		return nil, errors.Newf("invalid port %q", parts[1])
	}

	ep := &Endpoint{Address: host + ":" + strconv.Itoa(port)}
	if len(parts) == 4 {
		ep.Username = strings.TrimSpace(parts[2])
		ep.Password = strings.TrimSpace(parts[3])
	}
	return ep, nil
}

// ParseReader parses a proxy list file. Blank lines and lines starting
// with # are skipped. Malformed lines are collected, not fatal.
func ParseReader(r io.Reader) ([]*Endpoint, []ParseError, error) {
	var (
		endpoints []*Endpoint
		rejected  []ParseError
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ep, err := ParseLine(line)
		if err != nil {
			rejected = append(rejected, ParseError{Line: lineNo, Text: line, Err: err})
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if err := scanner.Err(); err != nil {
		return endpoints, rejected, errors.Wrap(err, "read proxy list")
	}

	return endpoints, rejected, nil
}
