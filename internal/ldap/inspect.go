package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Inspection is a tree of diagnostic messages produced by Inspect.
type Inspection struct {
	Description string
	Messages    []*Inspection
	Err         string
}

func newInspection(description string) *Inspection {
	return &Inspection{Description: description}
}

func (i *Inspection) write(message string) {
	i.Messages = append(i.Messages, newInspection(message))
}

func (i *Inspection) writeChild(child *Inspection) {
	i.Messages = append(i.Messages, child)
}

func (i *Inspection) fail(message string) *Inspection {
	i.Err = message
	return i
}

// HasError reports whether the inspection or any child failed.
func (i *Inspection) HasError() bool {
	if i.Err != "" {
		return true
	}
	for _, m := range i.Messages {
		if m.HasError() {
			return true
		}
	}
	return false
}

// Lines renders the tree as indented text lines.
func (i *Inspection) Lines() []string {
	var lines []string
	i.render(0, &lines)
	return lines
}

func (i *Inspection) render(depth int, lines *[]string) {
	indent := strings.Repeat("  ", depth)
	*lines = append(*lines, indent+i.Description)
	for _, m := range i.Messages {
		m.render(depth+1, lines)
	}
	if i.Err != "" {
		*lines = append(*lines, indent+"  ERROR: "+i.Err)
	}
}

// Inspect runs a self-test on a fresh transport: connect, bind and
// capability discovery. The state of c is not changed.
func (c *Connection) Inspect(ctx context.Context) *Inspection {
	insp := newInspection("LDAP Connection")

	probe := &Connection{cfg: c.cfg, dialer: c.dialer, urls: c.urls}
	defer probe.Close()

	switch c.cfg.Encryption {
	case EncryptionLDAPS:
		insp.write("Connect using LDAPS")
	case EncryptionStartTLS:
		insp.write("Connect using STARTTLS")
	default:
		insp.write("Connect without encryption")
	}

	if err := probe.Connect(ctx); err != nil {
		if c.cfg.Encryption == EncryptionStartTLS {
			insp.write("NOTE: There might be an issue with the chosen encryption. Ensure that the LDAP-Server " +
				"supports STARTTLS and that the LDAP-Client is configured to accept its certificate.")
		}
		return insp.fail(err.Error())
	}

	msg := fmt.Sprintf("LDAP bind (%s / ***) to %s with default port %d", c.cfg.BindDN, c.cfg.Hostname, c.cfg.Port)
	if err := probe.Bind(ctx); err != nil {
		if c.cfg.Encryption == EncryptionLDAPS {
			insp.write("NOTE: There might be an issue with the chosen encryption. Ensure that the LDAP-Server " +
				"supports LDAPS and that the LDAP-Client is configured to accept its certificate.")
		}
		return insp.fail(fmt.Sprintf("%s failed: %s", msg, diagnosticMessage(causeOf(err))))
	}
	insp.write(msg + " successful")

	caps, err := DiscoverCapabilities(ctx, probe)
	if err != nil {
		insp.write("Schema discovery not possible: " + err.Error())
		return insp
	}

	discovery := newInspection("Discovery Results")
	discovery.write(caps.Vendor())
	if version := caps.Version(); version != "" {
		discovery.write(version)
	}
	discovery.write("Supports STARTTLS: " + boolWord(caps.HasStartTLS()))
	discovery.write("Default naming context: " + caps.DefaultNamingContext())
	insp.writeChild(discovery)

	return insp
}

// causeOf returns the wire error behind an OperationError.
func causeOf(err error) error {
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Cause != nil {
		return opErr.Cause
	}
	return err
}

func boolWord(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
