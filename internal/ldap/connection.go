package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Connection is a single logical session with a directory server. It dials
// and binds lazily and is not safe for concurrent use; use one Connection
// per goroutine or check connections out of a ConnectionPool.
type Connection struct {
	cfg    ConnectionConfig
	dialer Dialer
	urls   []string

	conn      Transport
	serverURL string
	host      string
	port      int
	encrypted bool
	bound     bool
	closed    bool

	caps         *Capabilities
	discoveryErr error
}

// Option configures a Connection.
type Option func(*Connection)

// WithDialer replaces the transport factory.
func WithDialer(d Dialer) Option {
	return func(c *Connection) {
		c.dialer = d
	}
}

// NewConnection validates cfg and prepares a connection. No I/O happens
// until the first operation.
func NewConnection(ctx context.Context, cfg *ConnectionConfig, opts ...Option) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration cannot be nil", ErrConfig)
	}

	c := &Connection{cfg: *cfg, dialer: NetDialer{}}
	if err := c.cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfig, err.Error())
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	urls, err := serverURLs(&c.cfg)
	if err != nil {
		return nil, err
	}
	c.urls = urls

	for _, opt := range opts {
		opt(c)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Prepared LDAP connection", map[string]any{
		"servers":     urls,
		"encryption":  string(c.cfg.Encryption),
		"auth_method": c.cfg.AuthMethod(),
		"root_dn":     c.cfg.RootDN,
	})

	return c, nil
}

// Config returns a copy of the effective configuration.
func (c *Connection) Config() ConnectionConfig {
	return c.cfg
}

// Connect dials the first reachable server and upgrades the transport with
// STARTTLS when configured. It is a no-op on an open connection.
func (c *Connection) Connect(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	t, serverURL, err := c.dial(ctx)
	if err != nil {
		return err
	}

	host, port, ldaps := splitServerURL(serverURL)
	c.conn, c.serverURL, c.host, c.port = t, serverURL, host, port
	c.encrypted = ldaps || c.cfg.Encryption == EncryptionStartTLS

	LogConnectionEvent(ctx, "connection_established", map[string]any{
		"server":    serverURL,
		"encrypted": c.encrypted,
	})
	return nil
}

// dial opens a transport to the first reachable server.
func (c *Connection) dial(ctx context.Context) (Transport, string, error) {
	var lastErr error
	for _, serverURL := range c.urls {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		t, err := c.dialer.Dial(ctx, serverURL, &c.cfg)
		if err != nil {
			lastErr = err
			LogConnectionEvent(ctx, "connection_failed", map[string]any{
				"server": serverURL,
				"error":  err.Error(),
			})
			continue
		}
		t.SetTimeout(c.cfg.Timeout)

		host, _, ldaps := splitServerURL(serverURL)
		if c.cfg.Encryption == EncryptionStartTLS && !ldaps {
			if err := t.StartTLS(serverTLSConfig(&c.cfg, host)); err != nil {
				_ = t.Close()
				LogConnectionEvent(ctx, "starttls_failed", map[string]any{
					"server": serverURL,
					"error":  err.Error(),
				})
				return nil, "", newOperationError(ErrStartTLS, err, "LDAP STARTTLS failed: %s", diagnosticMessage(err))
			}
		}

		return t, serverURL, nil
	}

	retryable := lastErr == nil || IsRetryableError(lastErr) || isNetError(lastErr)
	return nil, "", NewConnectionError(
		fmt.Sprintf("unable to connect to %s", strings.Join(c.urls, ", ")),
		retryable,
		fmt.Errorf("%w: %w", ErrConnect, lastErr),
	)
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Bind authenticates the connection with the configured credentials. An
// empty bind DN keeps the session anonymous. It is a no-op once bound.
func (c *Connection) Bind(ctx context.Context) error {
	if c.bound {
		return nil
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}

	var err error
	switch {
	case c.cfg.UsesKerberos():
		err = kerberosBind(ctx, c.conn, &c.cfg, c.host)
	case c.cfg.BindDN == "":
		c.bound = true
		return nil
	default:
		err = c.conn.Bind(c.cfg.BindDN, c.cfg.BindPassword)
	}

	fields := map[string]any{
		"bind_dn":     c.cfg.BindDN,
		"auth_method": c.cfg.AuthMethod(),
		"server":      c.serverURL,
	}
	if err != nil {
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, "authentication_failed", fields)
		return c.bindError(err)
	}

	c.bound = true
	LogConnectionEvent(ctx, "authentication_success", fields)
	return nil
}

func (c *Connection) bindError(err error) error {
	return newOperationError(ErrBind, err, "LDAP bind (%s / ***) to %s with default port %d failed: %s",
		c.cfg.BindDN, c.cfg.Hostname, c.cfg.Port, diagnosticMessage(err))
}

// TestCredentials reports whether dn and password are accepted by the
// server. The bind happens on a dedicated transport so the state of c is
// left untouched. Rejected credentials yield false and no error.
func (c *Connection) TestCredentials(ctx context.Context, dn, password string) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}

	t, serverURL, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	defer t.Close()

	err = t.Bind(dn, password)
	switch {
	case err == nil:
		return true, nil
	case IsInvalidCredentials(err) || hasResultCode(err, ldap.ErrorEmptyPassword):
		tflog.SubsystemDebug(ctx, Subsystem, "Credentials rejected", map[string]any{
			"bind_dn": dn,
			"server":  serverURL,
		})
		return false, nil
	default:
		return false, newOperationError(ErrBind, err, "LDAP bind (%s / ***) to %s with default port %d failed: %s",
			dn, c.cfg.Hostname, c.cfg.Port, diagnosticMessage(err))
	}
}

// Capabilities returns the server capabilities, discovering them on first
// use. When discovery fails a guessed capability set is returned and the
// failure is available through DiscoveryError.
func (c *Connection) Capabilities(ctx context.Context) *Capabilities {
	if c.caps != nil {
		return c.caps
	}

	caps, err := DiscoverCapabilities(ctx, c)
	if err != nil {
		c.discoveryErr = err
		LogConnectionEvent(ctx, "capabilities_guessed", map[string]any{
			"host":  c.Hostname(),
			"error": err.Error(),
		})
		caps = NewCapabilities(nil)
	} else {
		LogConnectionEvent(ctx, "capabilities_discovered", map[string]any{
			"host":   c.Hostname(),
			"vendor": caps.Vendor(),
		})
	}

	c.caps = caps
	return caps
}

// DiscoverySuccessful reports whether capabilities were read from the server.
func (c *Connection) DiscoverySuccessful() bool {
	return c.caps != nil && c.discoveryErr == nil
}

// DiscoveryError returns the reason capabilities had to be guessed.
func (c *Connection) DiscoveryError() error {
	return c.discoveryErr
}

// IsEncrypted reports whether the transport is protected by TLS. Before
// connecting it reflects the configuration.
func (c *Connection) IsEncrypted() bool {
	if c.conn == nil {
		return c.cfg.Encryption != EncryptionNone
	}
	return c.encrypted
}

// Hostname returns the host connected to, or the first configured host.
func (c *Connection) Hostname() string {
	if c.host != "" {
		return c.host
	}
	host, _, _ := splitServerURL(c.urls[0])
	return host
}

// Port returns the port connected to, or the configured port.
func (c *Connection) Port() int {
	if c.port != 0 {
		return c.port
	}
	return c.cfg.Port
}

// RootDN returns the configured root DN.
func (c *Connection) RootDN() string {
	return c.cfg.RootDN
}

// IsBound reports whether Bind succeeded.
func (c *Connection) IsBound() bool {
	return c.bound
}

// Close releases the transport. A closed connection cannot be reused.
func (c *Connection) Close() error {
	c.closed = true
	c.bound = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Select returns a new query bound to c.
func (c *Connection) Select() *Query {
	q := NewQuery()
	q.conn = c
	return q
}

// baseFor returns the base of q, falling back to the root DN.
func (c *Connection) baseFor(q *Query) string {
	if q.base != "" {
		return q.base
	}
	return c.cfg.RootDN
}

// logSearch logs the ldapsearch command line equivalent to req.
func (c *Connection) logSearch(ctx context.Context, req *ldap.SearchRequest) {
	var starttls, bind string
	if c.cfg.Encryption == EncryptionStartTLS {
		starttls = " -ZZ"
	}
	if c.bound && c.cfg.BindDN != "" {
		bind = fmt.Sprintf(" -D %q", c.cfg.BindDN)
		if c.cfg.BindPassword != "" {
			bind += " -W"
		}
	}

	var attributes string
	if len(req.Attributes) > 0 {
		quoted := make([]string, 0, len(req.Attributes))
		for _, attr := range req.Attributes {
			quoted = append(quoted, fmt.Sprintf("%q", attr))
		}
		attributes = " " + strings.Join(quoted, " ")
	}

	var pageSize string
	if ctrl := ldap.FindControl(req.Controls, ldap.ControlTypePaging); ctrl != nil {
		if paging, ok := ctrl.(*ldap.ControlPaging); ok {
			pageSize = fmt.Sprintf(" -E pr=%d/noprompt", paging.PagingSize)
		}
	}

	command := fmt.Sprintf(`ldapsearch -P 3%s -H "%s"%s -b "%s" -s "%s" -z %d -l %d -a "%s"%s%s%s`,
		starttls, c.serverURL, bind, req.BaseDN, scopeName(req.Scope), req.SizeLimit, req.TimeLimit,
		"never", pageSize, " "+fmt.Sprintf("%q", req.Filter), attributes)

	tflog.SubsystemDebug(ctx, Subsystem, "Issuing LDAP search", map[string]any{"command": command})
}

func scopeName(scope int) string {
	switch scope {
	case ldap.ScopeBaseObject:
		return "base"
	case ldap.ScopeSingleLevel:
		return "one"
	default:
		return "sub"
	}
}
