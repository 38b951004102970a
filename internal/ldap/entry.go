package ldap

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ChangeOp is the kind of an attribute modification.
type ChangeOp int

const (
	ChangeAdd ChangeOp = iota
	ChangeDelete
	ChangeReplace
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	default:
		return "replace"
	}
}

// Change modifies one attribute. A delete without values removes the
// attribute; a replace without values removes it as well.
type Change struct {
	Op        ChangeOp
	Attribute string
	Values    []string
}

// HasDN reports whether an entry exists at dn.
func (c *Connection) HasDN(ctx context.Context, dn string) (bool, error) {
	if err := c.Bind(ctx); err != nil {
		return false, err
	}

	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"objectClass"}, nil)
	c.logSearch(ctx, req)

	res, err := c.conn.Search(req)
	if err != nil {
		if IsNoSuchObject(err) {
			return false, nil
		}
		return false, &SearchError{Filter: req.Filter, Base: dn, Cause: err}
	}
	return len(res.Entries) > 0, nil
}

// DeleteDN removes the entry at dn. It returns false when there was none.
func (c *Connection) DeleteDN(ctx context.Context, dn string) (bool, error) {
	if err := c.Bind(ctx); err != nil {
		return false, err
	}

	err := LogOperation(ctx, "delete", map[string]any{"dn": dn}, func() error {
		return c.conn.Del(ldap.NewDelRequest(dn, nil))
	})
	if err != nil {
		if IsNoSuchObject(err) {
			return false, nil
		}
		return false, newOperationError(ErrDelete, err, "LDAP delete for %q failed: %s", dn, diagnosticMessage(err))
	}
	return true, nil
}

// DeleteRecursively removes dn and everything below it, children first.
// It returns false when dn does not exist.
func (c *Connection) DeleteRecursively(ctx context.Context, dn string) (bool, error) {
	if err := c.Bind(ctx); err != nil {
		return false, err
	}

	req := ldap.NewSearchRequest(dn, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{noAttributes}, nil)
	c.logSearch(ctx, req)

	res, err := c.conn.Search(req)
	if err != nil {
		if IsNoSuchObject(err) {
			return false, nil
		}
		return false, newOperationError(ErrDelete, err, "LDAP list for %q failed: %s", dn, diagnosticMessage(err))
	}

	for _, child := range res.Entries {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if _, err := c.DeleteRecursively(ctx, child.DN); err != nil {
			return false, newOperationError(ErrDelete, err, "Recursively deleting %q failed", dn)
		}
	}

	return c.DeleteDN(ctx, dn)
}

// AddEntry creates an entry at dn. Attributes are sent in sorted order.
func (c *Connection) AddEntry(ctx context.Context, dn string, attributes map[string][]string) error {
	if err := c.Bind(ctx); err != nil {
		return err
	}

	req := ldap.NewAddRequest(dn, nil)
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		req.Attribute(name, attributes[name])
	}

	err := LogOperation(ctx, "add", map[string]any{"dn": dn, "attributes": names}, func() error {
		return c.conn.Add(req)
	})
	if err != nil {
		return NewLDAPError("add", dn, err)
	}
	return nil
}

// ModifyEntry applies changes to the entry at dn in the given order.
func (c *Connection) ModifyEntry(ctx context.Context, dn string, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := c.Bind(ctx); err != nil {
		return err
	}

	req := ldap.NewModifyRequest(dn, nil)
	summary := make([]string, 0, len(changes))
	for _, change := range changes {
		switch change.Op {
		case ChangeAdd:
			req.Add(change.Attribute, change.Values)
		case ChangeDelete:
			req.Delete(change.Attribute, change.Values)
		case ChangeReplace:
			req.Replace(change.Attribute, change.Values)
		default:
			return fmt.Errorf("%w: unknown change operation %d", ErrProgramming, change.Op)
		}
		summary = append(summary, change.Op.String()+":"+change.Attribute)
	}

	err := LogOperation(ctx, "modify", map[string]any{"dn": dn, "changes": summary}, func() error {
		return c.conn.Modify(req)
	})
	if err != nil {
		return NewLDAPError("modify", dn, err)
	}
	return nil
}

// MoveEntry renames dn to newRDN below newParent. The old RDN value is kept
// on the entry. An empty newParent keeps the entry where it is.
func (c *Connection) MoveEntry(ctx context.Context, dn, newRDN, newParent string) error {
	if err := c.Bind(ctx); err != nil {
		return err
	}

	req := ldap.NewModifyDNRequest(dn, newRDN, false, newParent)
	if err := c.conn.ModifyDN(req); err != nil {
		target := newRDN
		if newParent != "" {
			target += "," + newParent
		}
		return newOperationError(ErrMoveEntry, err, "Could not move entry %q to %q: %s", dn, target, diagnosticMessage(err))
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Moved LDAP entry", map[string]any{
		"dn":         dn,
		"new_rdn":    newRDN,
		"new_parent": newParent,
	})
	return nil
}
