package extract

import (
	"net/url"
	"strings"
	"unicode"
)

var notPersonNames = map[string]struct{}{
	"profiles": {},
	"persons":  {},
	"people":   {},
	"overview": {},
}

// LooksLikePersonName rejects navigation labels and single tokens: a name
// must contain a space or comma and at least four letters.
func LooksLikePersonName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if _, bad := notPersonNames[strings.ToLower(name)]; bad {
		return false
	}
	if !strings.ContainsAny(name, " ,") {
		return false
	}
	letters := 0
	for _, r := range name {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 4
}

// IsProfileURL reports whether href points at a single person profile:
// path <ProfilePrefix><slug>, and a host containing ProfileHost when the URL
// is absolute.
func IsProfileURL(href string, rules Rules) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	if host := strings.ToLower(u.Hostname()); host != "" && rules.ProfileHost != "" {
		if !strings.Contains(host, strings.ToLower(rules.ProfileHost)) {
			return false
		}
	}
	prefix := "/" + strings.Trim(rules.ProfilePrefix, "/") + "/"
	p := strings.TrimSuffix(u.Path, "/")
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	slug := p[len(prefix):]
	return slug != "" && !strings.Contains(slug, "/")
}
