package models

import "log/slog"

const redacted = "[REDACTED]"

// SecretDescriptor is the download descriptor returned by the storage API.
// Href is the one-time address the credential can be retrieved from.
type SecretDescriptor struct {
	Href      string `json:"href"`
	Method    string `json:"method"`
	Templated bool   `json:"templated"`
}

// Credential holds the raw secret retrieved from the descriptor address.
// It formats as a redacted placeholder so it never leaks into logs.
type Credential struct {
	secret string
}

// NewCredential wraps a raw secret.
func NewCredential(secret string) Credential {
	return Credential{secret: secret}
}

// Secret returns the raw secret value.
func (c Credential) Secret() string { return c.secret }

// IsEmpty reports whether no secret was retrieved.
func (c Credential) IsEmpty() bool { return c.secret == "" }

func (c Credential) String() string { return redacted }

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value { return slog.StringValue(redacted) }

// BearerToken is the short-lived token authorizing the location submission.
type BearerToken struct {
	Token string `json:"token"`
}

func (t BearerToken) String() string { return redacted }

// LogValue implements slog.LogValuer.
func (t BearerToken) LogValue() slog.Value { return slog.StringValue(redacted) }
