package ldap

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// SRVResolver looks up DNS SRV records. *net.Resolver implements it.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery finds directory servers of a domain through DNS SRV records.
type SRVDiscovery struct {
	resolver SRVResolver
}

// NewSRVDiscovery creates a new SRV discovery instance. A nil resolver uses
// the system resolver.
func NewSRVDiscovery(resolver SRVResolver) *SRVDiscovery {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &SRVDiscovery{resolver: resolver}
}

// DiscoverServers returns the servers announced for domain: _ldap._tcp
// records first, then _ldaps._tcp, each group ordered by priority and weight.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	start := time.Now()
	tflog.SubsystemDebug(ctx, Subsystem, "Starting server discovery for domain", map[string]any{
		"domain": domain,
	})

	var allServers []*ServerInfo
	for _, record := range []struct {
		service string
		useTLS  bool
	}{
		{"_ldap._tcp." + domain, false},
		{"_ldaps._tcp." + domain, true},
	} {
		servers, err := d.lookupSRV(ctx, record.service, record.useTLS)
		if err != nil {
			tflog.SubsystemDebug(ctx, Subsystem, "SRV lookup failed, continuing to next service", map[string]any{
				"service": record.service,
				"error":   err.Error(),
			})
			continue
		}
		sortServersByPriority(servers)
		allServers = append(allServers, servers...)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Server discovery completed", map[string]any{
		"duration":     time.Since(start).String(),
		"server_count": len(allServers),
	})

	if len(allServers) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", domain)
	}
	return allServers, nil
}

// lookupSRV performs SRV record lookup for a specific service.
func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}

	var servers []*ServerInfo
	for _, srv := range records {
		server := &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		}
		if server.Port == 0 {
			server.Port = 389
		}
		if err := ValidateServerInfo(server); err != nil {
			tflog.SubsystemDebug(ctx, Subsystem, "Ignoring invalid SRV record", map[string]any{
				"service": service,
				"error":   err.Error(),
			})
			continue
		}
		servers = append(servers, server)
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}
	return servers, nil
}

// sortServersByPriority sorts servers by priority and weight according to RFC 2782.
func sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}
	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}
	if server.Priority < 0 {
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	}
	if server.Weight < 0 {
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}
	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, fmt.Sprint(server.Port)))
}

// ResourceSettings are suggested connection settings.
type ResourceSettings struct {
	Hostname string
	Port     int
	RootDN   string
}

// BackendSettings are suggested user lookup settings.
type BackendSettings struct {
	BaseDN            string
	UserClass         string
	UserNameAttribute string
}

// DiscoveryResult is the outcome of DiscoverDomain.
type DiscoveryResult struct {
	Hostname     string
	Port         int
	UseTLS       bool
	RootDN       string
	Capabilities *Capabilities
	Successful   bool
	Err          error
}

// ResourceSuggestion returns connection settings for the discovered server.
// When discovery failed the settings are guessed from the domain and ok is
// false.
func (r *DiscoveryResult) ResourceSuggestion() (settings ResourceSettings, ok bool) {
	return ResourceSettings{Hostname: r.Hostname, Port: r.Port, RootDN: r.RootDN}, r.Successful
}

// BackendSuggestion returns user lookup settings fitting the server vendor.
// A failed discovery suggests the generic inetOrgPerson layout with ok false.
func (r *DiscoveryResult) BackendSuggestion() (settings BackendSettings, ok bool) {
	if r.Capabilities.IsActiveDirectory() {
		return BackendSettings{BaseDN: r.RootDN, UserClass: "user", UserNameAttribute: "sAMAccountName"}, r.Successful
	}
	return BackendSettings{BaseDN: r.RootDN, UserClass: "inetOrgPerson", UserNameAttribute: "uid"}, r.Successful
}

// DomainRootDN maps a DNS domain to its conventional root DN:
// example.com becomes dc=example,dc=com.
func DomainRootDN(domain string) string {
	var rdns []string
	for _, label := range strings.Split(strings.Trim(domain, "."), ".") {
		if label != "" {
			rdns = append(rdns, "dc="+QuoteForDN(label))
		}
	}
	return strings.Join(rdns, ",")
}

// Discoverer locates the directory server of a domain.
type Discoverer struct {
	srv      *SRVDiscovery
	template ConnectionConfig
	opts     []Option
}

// NewDiscoverer returns a discoverer probing servers with the timeout, TLS
// and credential settings of template. opts are passed to every probe
// connection.
func NewDiscoverer(srv *SRVDiscovery, template *ConnectionConfig, opts ...Option) *Discoverer {
	if srv == nil {
		srv = NewSRVDiscovery(nil)
	}
	d := &Discoverer{srv: srv, opts: opts}
	if template != nil {
		d.template = *template
	}
	return d
}

// DiscoverDomain first tries the domain name itself on port 389, then the
// first server announced via SRV records. When neither answers a guessed,
// unsuccessful result is returned.
func (d *Discoverer) DiscoverDomain(ctx context.Context, domain string) *DiscoveryResult {
	result, err := d.probe(ctx, &ServerInfo{Host: domain, Port: 389, Source: "config"})
	if err == nil {
		return result
	}
	lastErr := err

	if servers, err := d.srv.DiscoverServers(ctx, domain); err == nil {
		result, err := d.probe(ctx, servers[0])
		if err == nil {
			return result
		}
		lastErr = err
	}

	return &DiscoveryResult{
		Hostname:     domain,
		Port:         389,
		RootDN:       DomainRootDN(domain),
		Capabilities: NewCapabilities(nil),
		Err:          lastErr,
	}
}

func (d *Discoverer) probe(ctx context.Context, server *ServerInfo) (*DiscoveryResult, error) {
	cfg := d.template
	cfg.Hostname = server.Host
	cfg.Port = server.Port
	cfg.Encryption = EncryptionNone
	if server.UseTLS {
		cfg.Encryption = EncryptionLDAPS
	}

	conn, err := NewConnection(ctx, &cfg, d.opts...)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	caps, err := DiscoverCapabilities(ctx, conn)
	if err != nil {
		tflog.SubsystemInfo(ctx, Subsystem, fmt.Sprintf("LDAP discovery for %s:%d failed", server.Host, server.Port), map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	return &DiscoveryResult{
		Hostname:     server.Host,
		Port:         server.Port,
		UseTLS:       server.UseTLS,
		RootDN:       caps.DefaultNamingContext(),
		Capabilities: caps,
		Successful:   true,
	}, nil
}
