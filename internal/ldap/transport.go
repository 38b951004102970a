package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Transport is the subset of an LDAP wire connection used by Connection.
type Transport interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	StartTLS(config *tls.Config) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	ModifyDN(req *ldap.ModifyDNRequest) error
	Del(req *ldap.DelRequest) error
	SetTimeout(timeout time.Duration)
	Close() error
}

// Dialer opens transports to a single server URL.
type Dialer interface {
	Dial(ctx context.Context, serverURL string, cfg *ConnectionConfig) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, serverURL string, cfg *ConnectionConfig) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, serverURL string, cfg *ConnectionConfig) (Transport, error) {
	return f(ctx, serverURL, cfg)
}

// NetDialer dials real servers with go-ldap.
type NetDialer struct{}

func (NetDialer) Dial(ctx context.Context, serverURL string, cfg *ConnectionConfig) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	host, _, _ := splitServerURL(serverURL)
	lc, err := ldap.DialURL(serverURL,
		ldap.DialWithDialer(dialer),
		ldap.DialWithTLSConfig(serverTLSConfig(cfg, host)),
	)
	if err != nil {
		return nil, err
	}

	return &connTransport{Conn: lc}, nil
}

// connTransport adapts *ldap.Conn to Transport.
type connTransport struct {
	*ldap.Conn
}

func (c *connTransport) Close() error {
	c.Conn.Close()
	return nil
}

// serverTLSConfig returns the configured TLS settings with the server name set for host.
func serverTLSConfig(cfg *ConnectionConfig, host string) *tls.Config {
	var tlsConfig *tls.Config
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsConfig.ServerName == "" && !tlsConfig.InsecureSkipVerify {
		tlsConfig.ServerName = host
	}
	return tlsConfig
}

// serverURLs expands the configured hostname list into dialable URLs.
// Entries without a scheme get ldaps:// for LDAPS and ldap:// otherwise,
// entries without a port get the configured port.
func serverURLs(cfg *ConnectionConfig) ([]string, error) {
	scheme := "ldap"
	if cfg.Encryption == EncryptionLDAPS {
		scheme = "ldaps"
	}

	var urls []string
	for _, host := range strings.Fields(cfg.Hostname) {
		if !strings.Contains(host, "://") {
			host = scheme + "://" + host
		}

		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid LDAP URL %s: %s", ErrConfig, host, err.Error())
		}
		if u.Scheme != "ldap" && u.Scheme != "ldaps" {
			return nil, fmt.Errorf("%w: unsupported LDAP URL scheme %q in %s", ErrConfig, u.Scheme, host)
		}
		if u.Hostname() == "" {
			return nil, fmt.Errorf("%w: no hostname found in URL: %s", ErrConfig, host)
		}
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(cfg.Port))
		}

		urls = append(urls, u.Scheme+"://"+u.Host)
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: hostname must not be empty", ErrConfig)
	}

	return urls, nil
}

// splitServerURL returns host, port and whether the URL uses LDAPS.
func splitServerURL(serverURL string) (string, int, bool) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL, 0, false
	}
	port, _ := strconv.Atoi(u.Port())
	return u.Hostname(), port, u.Scheme == "ldaps"
}
