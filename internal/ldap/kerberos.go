package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosBind performs a GSSAPI bind on t against host.
func kerberosBind(ctx context.Context, t Transport, cfg *ConnectionConfig, host string) error {
	principal, realm, err := kerberosPrincipal(cfg)
	if err != nil {
		return err
	}

	krb5conf, cleanup, err := krb5ConfPath(ctx, cfg, realm)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := newGSSAPIClient(ctx, cfg, principal, realm, krb5conf)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	return t.GSSAPIBind(client, servicePrincipal(cfg, host), "")
}

// kerberosPrincipal splits the bind DN into principal and realm. A realm
// given as user@REALM overrides the configured one.
func kerberosPrincipal(cfg *ConnectionConfig) (string, string, error) {
	principal, realm := cfg.BindDN, cfg.KerberosRealm
	if user, userRealm, ok := strings.Cut(principal, "@"); ok {
		principal, realm = user, userRealm
	}
	if realm == "" {
		return "", "", fmt.Errorf("%w: kerberos realm is required (set kerberos_realm or include the realm in bind_dn)", ErrConfig)
	}
	return principal, strings.ToUpper(realm), nil
}

// newGSSAPIClient picks credentials in order: explicit credential cache,
// default credential cache, explicit keytab, default keytab, password.
func newGSSAPIClient(ctx context.Context, cfg *ConnectionConfig, principal, realm, krb5conf string) (*gssapi.Client, error) {
	settings := krb5client.DisablePAFXFAST(true)

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5conf, settings)
	}

	if ccache := defaultCCachePath(); fileExists(ccache) && cfg.BindPassword == "" {
		tflog.SubsystemDebug(ctx, Subsystem, "Using default credential cache", map[string]any{"ccache": ccache})
		return gssapi.NewClientFromCCache(ccache, krb5conf, settings)
	}

	if principal != "" {
		if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
			return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5conf, settings)
		}
		if cfg.BindPassword != "" {
			return gssapi.NewClientWithPassword(principal, realm, cfg.BindPassword, krb5conf, settings)
		}
		if keytab := defaultKeytabPath(); fileExists(keytab) {
			return gssapi.NewClientWithKeytab(principal, realm, keytab, krb5conf, settings)
		}
	}

	return nil, fmt.Errorf("%w: no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab or bind_password", ErrConfig)
}

// krb5ConfPath returns the krb5.conf to use. Without a configured or
// system-wide file a runtime configuration relying on DNS lookups is
// written to a temporary file.
func krb5ConfPath(ctx context.Context, cfg *ConnectionConfig, realm string) (string, func(), error) {
	noop := func() {}

	if cfg.KerberosConfig != "" {
		if !fileExists(cfg.KerberosConfig) {
			return "", noop, fmt.Errorf("%w: Kerberos configuration file not found at %s. Example minimal configuration:\n%s",
				ErrConfig, cfg.KerberosConfig, runtimeKrb5Conf(realm))
		}
		return cfg.KerberosConfig, noop, nil
	}
	if fileExists(defaultKrb5Conf) {
		return defaultKrb5Conf, noop, nil
	}

	conf := runtimeKrb5Conf(realm)
	if _, err := krb5config.NewFromString(conf); err != nil {
		return "", noop, fmt.Errorf("generated krb5.conf is invalid: %w", err)
	}

	f, err := os.CreateTemp("", "krb5-*.conf")
	if err != nil {
		return "", noop, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(conf); err != nil {
		_ = os.Remove(f.Name())
		return "", noop, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Generated runtime krb5.conf", map[string]any{
		"realm": realm,
		"path":  f.Name(),
	})

	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

// runtimeKrb5Conf renders a krb5.conf that discovers KDCs via DNS.
func runtimeKrb5Conf(realm string) string {
	domain := strings.ToLower(realm)
	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false

[realms]
    %s = {
    }

[domain_realm]
    .%s = %s
    %s = %s
`, realm, realm, domain, realm, domain, realm)
}

// servicePrincipal returns the configured SPN or ldap/<host>.
func servicePrincipal(cfg *ConnectionConfig, host string) string {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN
	}
	return "ldap/" + host
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
