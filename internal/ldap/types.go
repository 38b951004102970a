package ldap

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
)

// Encryption selects how the transport to the directory server is secured.
type Encryption string

const (
	EncryptionNone     Encryption = "none"
	EncryptionStartTLS Encryption = "starttls"
	EncryptionLDAPS    Encryption = "ldaps"
)

// Encryptions lists the accepted encryption modes.
func Encryptions() []string {
	return []string{string(EncryptionNone), string(EncryptionStartTLS), string(EncryptionLDAPS)}
}

// ParseEncryption converts user input into an Encryption mode.
func ParseEncryption(s string) (Encryption, error) {
	switch e := Encryption(strings.ToLower(strings.TrimSpace(s))); e {
	case "", EncryptionNone:
		return EncryptionNone, nil
	case EncryptionStartTLS, EncryptionLDAPS:
		return e, nil
	default:
		return "", fmt.Errorf("unsupported encryption %q, must be one of %s", s, strings.Join(Encryptions(), ", "))
	}
}

// DefaultPageSize is the number of entries requested per paged search round trip.
const DefaultPageSize = 1000

// ConnectionConfig holds the settings of one directory connection.
// It must not be modified once a Connection has been created from it.
type ConnectionConfig struct {
	// Hostname may hold several space separated hosts or ldap(s):// URLs.
	Hostname     string
	Port         int `default:"389"`
	BindDN       string
	BindPassword string
	RootDN       string
	Encryption   Encryption    `default:"none"`
	Timeout      time.Duration `default:"30s"`
	PageSize     uint32        `default:"1000"`

	// TLS settings
	TLSConfig *tls.Config

	// Kerberos settings, GSSAPI bind is used when KerberosRealm is set
	KerberosRealm  string
	KerberosConfig string
	KerberosKeytab string
	KerberosCCache string
	KerberosSPN    string
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *ConnectionConfig {
	cfg := &ConnectionConfig{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("invalid connection config defaults: %v", err))
	}
	cfg.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	return cfg
}

// ApplyDefaults fills zero valued fields with their defaults.
func (c *ConnectionConfig) ApplyDefaults() error {
	if c.Port == 0 && c.Encryption == EncryptionLDAPS {
		c.Port = 636
	}
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("failed to apply connection defaults: %w", err)
	}
	return nil
}

// Validate checks that the configuration can be used to connect.
func (c *ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Hostname) == "" {
		return fmt.Errorf("%w: hostname must not be empty", ErrConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port number: %d", ErrConfig, c.Port)
	}
	if _, err := ParseEncryption(string(c.Encryption)); err != nil {
		return fmt.Errorf("%w: %s", ErrConfig, err.Error())
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout cannot be negative", ErrConfig)
	}
	return nil
}

// UsesKerberos reports whether binds are performed with GSSAPI.
func (c *ConnectionConfig) UsesKerberos() bool {
	return c.KerberosRealm != ""
}

// AuthMethod names the bind mechanism for log fields.
func (c *ConnectionConfig) AuthMethod() string {
	switch {
	case c.UsesKerberos():
		return "kerberos"
	case c.BindDN == "":
		return "anonymous"
	default:
		return "simple"
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// Scope defines the breadth of a search relative to its base DN.
type Scope string

const (
	ScopeBase Scope = "base"
	ScopeOne  Scope = "one"
	ScopeSub  Scope = "sub"
)

// ParseScope converts user input into a Scope.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case "":
		return ScopeSub, nil
	case ScopeBase, ScopeOne, ScopeSub:
		return sc, nil
	default:
		return "", fmt.Errorf("%w: invalid scope %q, use one of base, one, sub", ErrProgramming, s)
	}
}

func (s Scope) ldapScope() int {
	switch s {
	case ScopeBase:
		return ldap.ScopeBaseObject
	case ScopeOne:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// SortDirection is the direction of an order rule.
type SortDirection int

const (
	SortAsc SortDirection = iota
	SortDesc
)

func (d SortDirection) String() string {
	if d == SortDesc {
		return "desc"
	}
	return "asc"
}

// ParseSortDirection converts "asc"/"desc" into a SortDirection.
func ParseSortDirection(s string) (SortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return SortAsc, nil
	case "desc":
		return SortDesc, nil
	default:
		return SortAsc, fmt.Errorf("%w: invalid sort direction %q", ErrProgramming, s)
	}
}

// OrderRule sorts results by one attribute.
type OrderRule struct {
	Attribute string
	Direction SortDirection
}

// Field is one requested attribute. Alias is the key it is exposed under.
type Field struct {
	Alias string
	Name  string
}

// Key returns the name the field appears under in an Entry.
func (f Field) Key() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Fields creates unaliased fields.
func Fields(names ...string) []Field {
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{Name: name})
	}
	return fields
}

// AliasedField exposes attribute name under alias.
func AliasedField(alias, name string) Field {
	return Field{Alias: alias, Name: name}
}
