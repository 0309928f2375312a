// Package redact masks credentials in strings before they are logged,
// shown by the dashboard or returned in error responses.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// Placeholders substituted for the masked parts.
const (
	Placeholder           = "[REDACTED]"
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	JWTPlaceholder        = "[REDACTED_JWT]"
)

type rule struct {
	re          *regexp.Regexp
	replacement string
}

var rules = []rule{
	// userinfo of database and broker URLs
	{
		re:          regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|mysql|sqlite|redis|rediss|amqp|amqps)://)[^@/\s]+@`),
		replacement: "${1}" + CredentialPlaceholder + "@",
	},
	// mysql style DSN user:pass@tcp(host)
	{
		re:          regexp.MustCompile(`\b[^\s:@/]+:[^\s@/]+@(tcp|unix)\(`),
		replacement: CredentialPlaceholder + "@${1}(",
	},
	{
		re:          regexp.MustCompile(`(?i)\b(password|passwd|pwd)(\s*[=:]\s*['"]?)[^'"&\s]{3,}`),
		replacement: "${1}${2}" + CredentialPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|jwt_secret|secret_key)(['"]?\s*[:=]\s*['"]?)[A-Za-z0-9_\-.~+/]{8,}`),
		replacement: "${1}${2}" + KeyPlaceholder,
	},
	{
		re:          regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		replacement: JWTPlaceholder,
	},
}

// String masks credentials found in input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error masks credentials in err.Error().
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// URL masks the password of a connection URL, keeping the user name so the
// result is still useful for diagnostics. Strings that do not parse as URLs
// go through String.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.User == nil {
		return String(raw)
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

// secretKeys are the setting names whose values are always masked.
var secretKeys = []string{"password", "secret", "token", "api_key", "apikey"}

// Settings returns a copy of a configuration tree with secret values
// masked and credentials removed from URLs. Nested maps and lists are
// copied too.
func Settings(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		out[k] = settingValue(k, v)
	}
	return out
}

func settingValue(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Settings(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = settingValue(key, item)
		}
		return items
	case string:
		lower := strings.ToLower(key)
		for _, s := range secretKeys {
			if strings.Contains(lower, s) && val != "" {
				return Placeholder
			}
		}
		return URL(val)
	}
	return v
}
