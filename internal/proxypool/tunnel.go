package proxypool

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Tunnel builds HTTP transports that route through one kind of proxy.
type Tunnel interface {
	Protocol() scraper.ProxyProtocol
	Transport(p scraper.ProxyServer) (*http.Transport, error)
}

// DefaultTunnels returns the tunnels for every supported protocol.
func DefaultTunnels() map[scraper.ProxyProtocol]Tunnel {
	return map[scraper.ProxyProtocol]Tunnel{
		scraper.ProxyHTTP:   forwardTunnel{protocol: scraper.ProxyHTTP},
		scraper.ProxyHTTPS:  forwardTunnel{protocol: scraper.ProxyHTTPS},
		scraper.ProxySOCKS5: socks5Tunnel{},
	}
}

// forwardTunnel speaks HTTP CONNECT / absolute-form requests to an HTTP(S) proxy.
type forwardTunnel struct {
	protocol scraper.ProxyProtocol
}

func (t forwardTunnel) Protocol() scraper.ProxyProtocol { return t.protocol }

func (t forwardTunnel) Transport(p scraper.ProxyServer) (*http.Transport, error) {
	u, err := ProxyURL(p)
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		Proxy:             http.ProxyURL(u),
		DisableKeepAlives: true,
	}, nil
}

type socks5Tunnel struct{}

func (socks5Tunnel) Protocol() scraper.ProxyProtocol { return scraper.ProxySOCKS5 }

func (socks5Tunnel) Transport(p scraper.ProxyServer) (*http.Transport, error) {
	u, err := ProxyURL(p)
	if err != nil {
		return nil, err
	}
	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}
	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("build socks5 dialer: %w", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support contexts")
	}
	return &http.Transport{
		DialContext:       ctxDialer.DialContext,
		DisableKeepAlives: true,
	}, nil
}

// ProxyURL parses the record's URL and applies its credentials. A URL without
// a scheme takes the record's protocol.
func ProxyURL(p scraper.ProxyServer) (*url.URL, error) {
	raw := strings.TrimSpace(p.URL)
	if raw == "" {
		return nil, scraper.Validationf("proxy_url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = string(p.Protocol) + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, scraper.Validationf("invalid proxy_url %q: %v", p.URL, err)
	}
	if u.Hostname() == "" {
		return nil, scraper.Validationf("proxy_url %q has no host", p.URL)
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}
