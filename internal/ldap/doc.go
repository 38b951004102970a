/*
Package ldap is a directory client for LDAPv3 servers such as OpenLDAP and
Active Directory, used by the Terraform LDAP provider.

# Architecture Overview

The package is organized into several core components:

  - Connection: lazy dial, STARTTLS upgrade, simple or GSSAPI bind
  - Query: fluent search builder with filters, order rules and paging
  - Search executor: paged and unpaged searches with client-side sorting
  - Normalizer: maps wire attributes onto requested fields and aliases
  - Capabilities: root DSE discovery and vendor detection
  - Tree: assembles entries into a hierarchy below the root DN
  - Discoverer: locates the server of a domain directly or via SRV records

# Connection Management

A Connection is a single session and must not be shared between
goroutines. ConnectionPool hands out independent connections with
exclusive checkout and shares discovered capabilities between them.

# Searching

	conn, err := ldap.NewConnection(ctx, &ldap.ConnectionConfig{
		Hostname:     "ldap.example.com",
		BindDN:       "cn=admin,dc=example,dc=com",
		BindPassword: "secret",
		RootDN:       "dc=example,dc=com",
		Encryption:   ldap.EncryptionStartTLS,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	users, err := conn.Select().
		From("inetOrgPerson", ldap.AliasedField("user_name", "uid"), ldap.Field{Name: "mail"}).
		Where("mail", "*@example.com").
		Order("uid", ldap.SortAsc).
		Limit(25, 0).
		SetUsePagedResults(true).
		FetchAll(ctx)

# Error Handling

Failures are reported through LDAPError, SearchError, OperationError and
ConnectionError. All of them work with errors.Is against the package
sentinels and with the Is* predicates. Passwords never appear in error
messages or log fields.
*/
package ldap
