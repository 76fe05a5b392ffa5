package hosts

import (
	"net/url"
	"strconv"
	"strings"

	"ollamaswarm/internal/core"
)

// NormalizeURL validates a backend base URL and returns its canonical form:
// lower-cased scheme and host, explicit port kept, trailing slash removed.
// Two inputs that normalize to the same string name the same host.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", core.NewInvalidURLError(raw, "url is required")
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", core.NewInvalidURLError(raw, "cannot be parsed")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", core.NewInvalidURLError(raw, "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return "", core.NewInvalidURLError(raw, "missing host")
	}
	if u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", core.NewInvalidURLError(raw, "query and fragment are not allowed")
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return "", core.NewInvalidURLError(raw, "port out of range")
		}
	}

	host := strings.ToLower(u.Host)
	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(host)
	b.WriteString(path)
	return b.String(), nil
}
