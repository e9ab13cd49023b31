// Package tor provides the anonymising transport used by the client
// SDK: a SOCKS5-proxied HTTP client and the is-Tor probe.
package tor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// Well-known probe endpoints.
const (
	torCheckURL = "https://check.torproject.org/api/ip"
	exitIPURL   = "https://api.ipify.org"
)

// DefaultProxyAddr is the standard local SOCKS5 port of a Tor daemon.
const DefaultProxyAddr = "127.0.0.1:9050"

// Config holds Tor configuration parameters.
type Config struct {
	Enabled   bool
	ProxyAddr string
	Timeout   time.Duration
}

// Client dials through the Tor SOCKS5 proxy when enabled, or directly
// otherwise.
type Client struct {
	config Config
	dialer proxy.Dialer
	http   *http.Client
}

// NewClient creates a Tor client over an already-running SOCKS5 proxy.
func NewClient(config Config) (*Client, error) {
	if config.ProxyAddr == "" {
		config.ProxyAddr = DefaultProxyAddr
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	c := &Client{config: config}
	if !config.Enabled {
		c.dialer = proxy.Direct
	} else {
		dialer, err := proxy.SOCKS5("tcp", config.ProxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %v", err)
		}
		c.dialer = dialer
	}

	c.http = &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			DialContext: c.DialContext,
		},
	}
	return c, nil
}

// IsEnabled returns whether Tor is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// ProxyAddr returns the Tor proxy address.
func (c *Client) ProxyAddr() string {
	return c.config.ProxyAddr
}

// Dial connects to an address through Tor.
func (c *Client) Dial(network, address string) (net.Conn, error) {
	if !c.config.Enabled {
		return net.Dial(network, address)
	}
	return c.dialer.Dial(network, address)
}

// DialContext connects to an address through Tor with a context.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !c.config.Enabled {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
	if cd, ok := c.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	// Use goroutine to support context cancellation
	type result struct {
		conn net.Conn
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		conn, err := c.dialer.Dial(network, address)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.conn, res.err
	}
}

// HTTPClient returns the proxied HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// VerifyConnection asks the Tor project's probe whether this client's
// traffic exits through Tor.
func (c *Client) VerifyConnection(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, torCheckURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("tor check failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		IsTor bool `json:"IsTor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("tor check response: %v", err)
	}
	return body.IsTor, nil
}

// ExitIP returns the public address this client's traffic appears
// from.
func (c *Client) ExitIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exitIPURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get IP: %v", err)
	}
	defer resp.Body.Close()

	ip, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	return string(ip), nil
}
