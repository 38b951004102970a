package ldap

import (
	"context"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Well known control, extension and capability OIDs.
const (
	OIDStartTLS             = "1.3.6.1.4.1.1466.20037"
	OIDPagedResults         = "1.2.840.113556.1.4.319"
	OIDShowDeleted          = "1.2.840.113556.1.4.417"
	OIDServerSort           = "1.2.840.113556.1.4.473"
	OIDCrossDomMoveTarget   = "1.2.840.113556.1.4.521"
	OIDNotification         = "1.2.840.113556.1.4.528"
	OIDExtendedDN           = "1.2.840.113556.1.4.529"
	OIDLazyCommit           = "1.2.840.113556.1.4.619"
	OIDSDFlags              = "1.2.840.113556.1.4.801"
	OIDTreeDelete           = "1.2.840.113556.1.4.805"
	OIDDirSync              = "1.2.840.113556.1.4.841"
	OIDVerifyName           = "1.2.840.113556.1.4.1338"
	OIDDomainScope          = "1.2.840.113556.1.4.1339"
	OIDSearchOptions        = "1.2.840.113556.1.4.1340"
	OIDPermissiveModify     = "1.2.840.113556.1.4.1413"
	OIDAttributeScopedQuery = "1.2.840.113556.1.4.1504"
	OIDFastBind             = "1.2.840.113556.1.4.1781"
	OIDVLVRequest           = "2.16.840.1.113730.3.4.9"

	// Active Directory capabilities.
	OIDActiveDirectory               = "1.2.840.113556.1.4.800"
	OIDActiveDirectoryLDAPInteg      = "1.2.840.113556.1.4.1791"
	OIDActiveDirectoryV51            = "1.2.840.113556.1.4.1670"
	OIDActiveDirectoryADAMDigest     = "1.2.840.113556.1.4.1880"
	OIDActiveDirectoryADAM           = "1.2.840.113556.1.4.1851"
	OIDActiveDirectoryPartialSecrets = "1.2.840.113556.1.4.1920"
	OIDActiveDirectoryV60            = "1.2.840.113556.1.4.1935"
	OIDActiveDirectoryV61R2          = "1.2.840.113556.1.4.2080"
	OIDActiveDirectoryW8             = "1.2.840.113556.1.4.2237"
)

// activeDirectoryVersions is ordered newest first.
var activeDirectoryVersions = []struct {
	oid  string
	name string
}{
	{OIDActiveDirectoryW8, "Windows Server 2012 (or newer)"},
	{OIDActiveDirectoryV61R2, "Windows Server 2008 R2 (or newer)"},
	{OIDActiveDirectoryV60, "Windows Server 2008 (or newer)"},
}

// rootDSEFields are read from the root DSE during discovery.
var rootDSEFields = Fields(
	"configurationNamingContext",
	"defaultNamingContext",
	"namingContexts",
	"vendorName",
	"vendorVersion",
	"supportedSaslMechanisms",
	"dnsHostName",
	"schemaNamingContext",
	"supportedLDAPVersion",
	"supportedCapabilities",
	"supportedControl",
	"supportedExtension",
	"objectVersion",
	"+",
)

var oidAttributes = []string{"supportedControl", "supportedExtension", "supportedFeatures", "supportedCapabilities"}

// Capabilities describes what a directory server announced in its root DSE.
// The value is immutable.
type Capabilities struct {
	attributes *Entry
	oids       map[string]bool
}

// NewCapabilities builds capabilities from normalized root DSE attributes.
// A nil entry yields the guessed defaults used when discovery fails.
func NewCapabilities(attributes *Entry) *Capabilities {
	if attributes == nil {
		attributes = &Entry{Attributes: map[string]Value{}}
	}

	c := &Capabilities{attributes: attributes, oids: map[string]bool{}}
	for _, key := range oidAttributes {
		for _, oid := range attributes.Get(key).values {
			c.oids[oid] = true
		}
	}
	return c
}

func (c *Capabilities) HasOID(oid string) bool { return c.oids[oid] }

func (c *Capabilities) HasStartTLS() bool { return c.HasOID(OIDStartTLS) }

func (c *Capabilities) HasPagedResult() bool { return c.HasOID(OIDPagedResults) }

func (c *Capabilities) IsActiveDirectory() bool { return c.HasOID(OIDActiveDirectory) }

func (c *Capabilities) IsOpenLDAP() bool {
	v := c.attributes.Get("structuralObjectClass")
	return !v.IsList() && v.First() == "OpenLDAProotDSE"
}

// HasLDAPv3 defaults to true when the server does not announce its versions.
func (c *Capabilities) HasLDAPv3() bool {
	versions := c.attributes.Get("supportedLDAPVersion")
	if versions.IsNull() {
		return true
	}
	return slices.Contains(versions.values, "3")
}

// OIDs returns every announced OID in sorted order.
func (c *Capabilities) OIDs() []string {
	oids := make([]string, 0, len(c.oids))
	for oid := range c.oids {
		oids = append(oids, oid)
	}
	slices.Sort(oids)
	return oids
}

// Attributes returns the normalized root DSE.
func (c *Capabilities) Attributes() *Entry {
	return c.attributes.clone()
}

// DefaultNamingContext falls back to the first naming context.
func (c *Capabilities) DefaultNamingContext() string {
	if v := c.attributes.Get("defaultNamingContext"); !v.IsNull() {
		return v.First()
	}
	if contexts := c.NamingContexts(); len(contexts) > 0 {
		return contexts[0]
	}
	return ""
}

func (c *Capabilities) ConfigurationNamingContext() string {
	return c.attributes.Get("configurationNamingContext").First()
}

func (c *Capabilities) NamingContexts() []string {
	return c.attributes.Get("namingContexts").Strings()
}

func (c *Capabilities) NetBIOSName() string {
	return c.attributes.Get("nETBIOSName").First()
}

func (c *Capabilities) SASLMechanisms() []string {
	return c.attributes.Get("supportedSaslMechanisms").Strings()
}

func (c *Capabilities) DNSHostName() string {
	return c.attributes.Get("dnsHostName").First()
}

// Vendor names the server software. AD and OpenLDAP do not announce
// vendorName, so they are recognised by their capabilities.
func (c *Capabilities) Vendor() string {
	switch {
	case c.IsActiveDirectory():
		return "Microsoft Active Directory"
	case c.IsOpenLDAP():
		return "OpenLDAP"
	default:
		return c.attributes.Get("vendorName").First()
	}
}

// Version describes the server version, "" when unknown.
func (c *Capabilities) Version() string {
	if c.IsActiveDirectory() {
		for _, v := range activeDirectoryVersions {
			if c.HasOID(v.oid) {
				return v.name
			}
		}
		return ""
	}
	return c.attributes.Get("vendorVersion").First()
}

// DomainName derives a short domain name: the NetBIOS name on Active
// Directory, otherwise the lower-cased DC components of the default naming
// context.
func DomainName(c *Capabilities) string {
	if c.IsActiveDirectory() {
		if name := c.NetBIOSName(); name != "" {
			return name
		}
	}

	parts, err := ExplodeDN(c.DefaultNamingContext(), true)
	if err != nil {
		return ""
	}

	// Only the trailing run of DC components forms the domain.
	var labels []string
	for i := len(parts) - 1; i >= 0; i-- {
		attrType, value, ok := strings.Cut(parts[i], "=")
		if !ok || !strings.EqualFold(attrType, "dc") {
			break
		}
		labels = append([]string{strings.ToLower(value)}, labels...)
	}
	return strings.Join(labels, ".")
}

// DiscoverCapabilities reads the root DSE of the server c is connected to.
// Active Directory servers are additionally asked for their NetBIOS name,
// which requires a bind.
func DiscoverCapabilities(ctx context.Context, c *Connection) (*Capabilities, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	query := NewQuery().From("*", rootDSEFields...)
	req := ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		query.String(), fieldNames(rootDSEFields), nil)
	c.logSearch(ctx, req)

	res, err := c.conn.Search(req)
	if err != nil {
		return nil, newOperationError(ErrCapabilityQuery, err,
			"Capability query failed (%s:%d): %s. Check if hostname and port of the ldap resource are correct and if anonymous access is permitted.",
			c.Hostname(), c.Port(), diagnosticMessage(err))
	}
	if len(res.Entries) == 0 {
		return nil, newOperationError(ErrCapabilitiesUnavailable, nil,
			"Capabilities not available (%s:%d): no root DSE entry returned. Discovery of root DSE probably not permitted.",
			c.Hostname(), c.Port())
	}

	rootDSE := NewNormalizer(rootDSEFields, "").Normalize(ctx, res.Entries[0])[0]
	caps := NewCapabilities(rootDSE)

	if caps.IsActiveDirectory() {
		if err := discoverActiveDirectoryOptions(ctx, c, rootDSE); err != nil {
			return nil, err
		}
		caps = NewCapabilities(rootDSE)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Discovered server capabilities", map[string]any{
		"vendor":                 caps.Vendor(),
		"version":                caps.Version(),
		"default_naming_context": caps.DefaultNamingContext(),
		"paged_results":          caps.HasPagedResult(),
		"starttls":               caps.HasStartTLS(),
	})

	return caps, nil
}

// discoverActiveDirectoryOptions merges the NetBIOS name of the default
// naming context into rootDSE.
func discoverActiveDirectoryOptions(ctx context.Context, c *Connection, rootDSE *Entry) error {
	caps := NewCapabilities(rootDSE)
	configurationNC := caps.ConfigurationNamingContext()
	defaultNC := caps.DefaultNamingContext()
	if configurationNC == "" || defaultNC == "" {
		return nil
	}

	if err := c.Bind(ctx); err != nil {
		return err
	}

	adFields := Fields("nETBIOSName")
	partitions := "CN=Partitions," + configurationNC
	query := NewQuery().From("*", adFields...).Where("nCName", defaultNC)
	req := ldap.NewSearchRequest(partitions, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		query.String(), fieldNames(adFields), nil)
	c.logSearch(ctx, req)

	res, err := c.conn.Search(req)
	if err != nil {
		return newOperationError(ErrCapabilityQuery, err,
			"Configuration options query failed (%s:%d): %s. Check if hostname and port of the ldap resource are correct and if anonymous access is permitted.",
			c.Hostname(), c.Port(), diagnosticMessage(err))
	}
	if len(res.Entries) == 0 {
		return newOperationError(ErrCapabilitiesUnavailable, nil,
			"Configuration options not available (%s:%d). Discovery of %q probably not permitted.",
			c.Hostname(), c.Port(), partitions)
	}

	options := NewNormalizer(adFields, "").Normalize(ctx, res.Entries[0])[0]
	for key, value := range options.Attributes {
		rootDSE.Attributes[key] = value
	}
	return nil
}

func fieldNames(fields []Field) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(names, f.Name) {
			names = append(names, f.Name)
		}
	}
	return names
}
