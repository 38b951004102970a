package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Subsystem is the tflog subsystem used by the directory client.
const Subsystem = "ldap"

// SubsystemLevelEnv controls the log level of the directory client.
const SubsystemLevelEnv = "TF_LOG_PROVIDER_LDAP_CLIENT"

// WithLogging registers the client subsystem on ctx.
func WithLogging(ctx context.Context) context.Context {
	return tflog.NewSubsystem(ctx, Subsystem,
		tflog.WithLevelFromEnv(SubsystemLevelEnv),
		tflog.WithAdditionalLocationOffset(1),
	)
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	logFields := make(map[string]any, len(fields)+3)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation

	tflog.SubsystemDebug(ctx, Subsystem, "Starting operation", logFields)

	err := fn()

	logFields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		logFields["error"] = err.Error()
		tflog.SubsystemError(ctx, Subsystem, "Operation failed", logFields)
	} else {
		tflog.SubsystemDebug(ctx, Subsystem, "Operation completed successfully", logFields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, operation string, err error, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+5)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation
	logFields["error"] = err.Error()

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		logFields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			logFields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			logFields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	tflog.SubsystemError(ctx, Subsystem, "LDAP operation failed", SanitizeFields(logFields))
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+1)
	maps.Copy(logFields, fields)
	logFields["event"] = event
	logFields = SanitizeFields(logFields)

	switch event {
	case "connection_established", "authentication_success", "capabilities_discovered":
		tflog.SubsystemInfo(ctx, Subsystem, "Connection event", logFields)
	case "connection_failed", "authentication_failed", "starttls_failed":
		tflog.SubsystemError(ctx, Subsystem, "Connection event", logFields)
	case "capabilities_guessed", "referrals_ignored":
		tflog.SubsystemWarn(ctx, Subsystem, "Connection event", logFields)
	default:
		tflog.SubsystemDebug(ctx, Subsystem, "Connection event", logFields)
	}
}

// LogPoolEvent logs connection pool events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+1)
	maps.Copy(logFields, fields)
	logFields["event"] = event

	switch event {
	case "pool_exhausted", "connection_discarded":
		tflog.SubsystemWarn(ctx, Subsystem, "Pool event", logFields)
	case "pool_closed":
		tflog.SubsystemInfo(ctx, Subsystem, "Pool event", logFields)
	default:
		tflog.SubsystemTrace(ctx, Subsystem, "Pool event", logFields)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":      true,
		"passwd":        true,
		"bind_password": true,
		"secret":        true,
		"token":         true,
		"credential":    true,
		"credentials":   true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"userpassword=",
		"secret=",
		"token=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// LogResourceOperation provides standardized entry/exit logging for Terraform resource operations.
func LogResourceOperation(ctx context.Context, resource, operation string, fields map[string]any) func(error) {
	return logSurfaceOperation(ctx, "resource", resource, operation, fields)
}

// LogDataSourceOperation provides standardized entry/exit logging for Terraform data source operations.
func LogDataSourceOperation(ctx context.Context, dataSource, operation string, fields map[string]any) func(error) {
	return logSurfaceOperation(ctx, "data_source", dataSource, operation, fields)
}

func logSurfaceOperation(ctx context.Context, kind, name, operation string, fields map[string]any) func(error) {
	start := time.Now()
	label := strings.ReplaceAll(kind, "_", " ")

	entryFields := make(map[string]any, len(fields)+2)
	maps.Copy(entryFields, fields)
	entryFields[kind] = name
	entryFields["operation"] = operation

	tflog.SubsystemDebug(ctx, "provider", "Starting "+label+" operation", entryFields)

	return func(err error) {
		exitFields := make(map[string]any, len(entryFields)+3)
		maps.Copy(exitFields, entryFields)
		exitFields["duration_ms"] = time.Since(start).Milliseconds()
		exitFields["has_error"] = err != nil

		if err != nil {
			exitFields["error"] = err.Error()
			tflog.SubsystemError(ctx, "provider", capitalize(label)+" operation failed", exitFields)
		} else {
			tflog.SubsystemDebug(ctx, "provider", capitalize(label)+" operation completed", exitFields)
		}
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
