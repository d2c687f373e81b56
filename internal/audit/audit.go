// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only. Connection URLs are logged
// with any embedded password removed.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// sensitivity controls how an env var value is rendered in the audit log.
type sensitivity int

const (
	plain sensitivity = iota
	// secret values are reduced to "set" or "unset".
	secret
	// credentialURL values keep scheme, host, and path; passwords are masked.
	credentialURL
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	key  string
	kind sensitivity
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", plain},
	{"OLLAMA_HOST", plain},
	{"OLLAMA_MODEL", plain},
	{"OPENAI_API_KEY", secret},
	{"OPENAI_MODEL", plain},
	{"AZURE_OPENAI_API_KEY", secret},
	{"AZURE_OPENAI_ENDPOINT", plain},
	{"AZURE_OPENAI_DEPLOYMENT", plain},
	{"GOOGLE_API_KEY", secret},
	{"GEMINI_MODEL", plain},
	{"ARK_API_KEY", secret},
	{"ARK_MODEL", plain},
	{"EMBEDDING_PROVIDER", plain},
	{"EMBEDDING_MODEL", plain},
	{"EMBEDDING_API_KEY", secret},
	{"IPFS_API_URL", credentialURL},
	{"REDIS_URL", credentialURL},
	{"REGISTRY_BACKEND", plain},
	{"REGISTRY_DSN", credentialURL},
	{"WEB3_PROVIDER_URI", credentialURL},
	{"CONTRACT_ADDRESS", plain},
	{"CHAIN_ID", plain},
	{"ACCOUNT_ADDRESS", plain},
	{"PRIVATE_KEY", secret},
	{"QDRANT_HOST", plain},
	{"QDRANT_COLLECTION", plain},
	{"QDRANT_API_KEY", secret},
	{"MANUALRAG_API_KEY", secret},
	{"LOG_LEVEL", plain},
	{"LOG_FORMAT", plain},
	{"LANGFUSE_PUBLIC_KEY", secret},
	{"LANGFUSE_SECRET_KEY", secret},
}

// kinds indexes auditKeys by name for SanitiseKey.
var kinds = func() map[string]sensitivity {
	m := make(map[string]sensitivity, len(auditKeys))
	for _, e := range auditKeys {
		m[e.key] = e.kind
	}
	return m
}()

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, render(entry.kind, os.Getenv(entry.key))))
	}

	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value the way the audit log would for key. Unknown
// keys are treated as plain. Safe to use in log messages.
func SanitiseKey(key, value string) string {
	return render(kinds[key], value)
}

func render(kind sensitivity, value string) string {
	switch kind {
	case secret:
		return presence(value)
	case credentialURL:
		return redactURL(value)
	default:
		return valOrUnset(value)
	}
}

// redactURL masks the password in a URL. Values that do not parse as URLs
// with a scheme are treated as paths (sqlite DSNs) and returned unchanged.
func redactURL(v string) string {
	if v == "" {
		return "unset"
	}
	u, err := url.Parse(v)
	if err != nil {
		if strings.Contains(v, "@") {
			return "set"
		}
		return v
	}
	if u.Scheme == "" {
		return v
	}
	return u.Redacted()
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory
// shortened to "~", or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
