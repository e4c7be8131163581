package schema

import "strings"

// Credential references one provider account. It is forwarded verbatim to the
// account collaborators and never interpreted locally.
type Credential struct {
	Exchange   string `yaml:"exchange" json:"exchange"`
	APIKey     string `yaml:"apiKey" json:"apiKey"`
	APISecret  string `yaml:"apiSecret" json:"apiSecret"`
	Passphrase string `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
}

// Usable reports whether the credential names an exchange and a key.
func (c Credential) Usable() bool {
	return strings.TrimSpace(c.Exchange) != "" && strings.TrimSpace(c.APIKey) != ""
}

// Redacted returns a copy with secrets masked, for logs and API output.
func (c Credential) Redacted() Credential {
	out := c
	if out.APIKey != "" {
		out.APIKey = mask(out.APIKey)
	}
	if out.APISecret != "" {
		out.APISecret = "***"
	}
	if out.Passphrase != "" {
		out.Passphrase = "***"
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
