package chatid

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

type Kind string

const (
	KindGroup     Kind = "group"
	KindPrivate   Kind = "private"
	KindBroadcast Kind = "broadcast"
	KindUnknown   Kind = "unknown"
)

// ID is the result of normalizing one observed identifier spelling.
type ID struct {
	Canonical  string
	Bare       string
	Kind       Kind
	Alternates []string
}

// Normalize never fails: input that matches no known suffix is returned as its own
// canonical id.
func Normalize(raw string) ID {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ID{Kind: KindUnknown}
	}

	user, server, hasServer := strings.Cut(s, "@")
	if !hasServer {
		bare := bareUser(user)
		if !isNumeric(bare) {
			return ID{Canonical: s, Bare: s, Kind: KindUnknown, Alternates: []string{s}}
		}
		return private(bare)
	}

	server = strings.ToLower(server)
	switch server {
	case types.GroupServer:
		canonical := user + "@" + types.GroupServer
		return ID{
			Canonical:  canonical,
			Bare:       user,
			Kind:       KindGroup,
			Alternates: uniq(canonical, user),
		}
	case types.DefaultUserServer, types.LegacyUserServer, types.HiddenUserServer:
		bare := bareUser(user)
		if bare == "" {
			return ID{Canonical: s, Bare: s, Kind: KindUnknown, Alternates: []string{s}}
		}
		return private(bare)
	case types.BroadcastServer, types.NewsletterServer:
		canonical := user + "@" + server
		return ID{Canonical: canonical, Bare: user, Kind: KindBroadcast, Alternates: []string{canonical}}
	default:
		return ID{Canonical: s, Bare: user, Kind: KindUnknown, Alternates: uniq(s)}
	}
}

// Canonical is shorthand for Normalize(raw).Canonical.
func Canonical(raw string) string {
	return Normalize(raw).Canonical
}

// Equivalent reports whether two spellings resolve to the same chat.
func Equivalent(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na.Canonical != "" && na.Canonical == nb.Canonical
}

// NameKey is the alternate lookup key derived from a display name.
func NameKey(displayName string) string {
	name := strings.ToLower(strings.TrimSpace(displayName))
	if name == "" {
		return ""
	}
	return "name:" + name
}

// Keys returns every lookup key for a chat: the id variants plus the name key.
func Keys(raw, displayName string) []string {
	keys := append([]string{}, Normalize(raw).Alternates...)
	if nk := NameKey(displayName); nk != "" {
		keys = append(keys, nk)
	}
	return keys
}

func private(bare string) ID {
	canonical := bare + "@" + types.DefaultUserServer
	return ID{
		Canonical: canonical,
		Bare:      bare,
		Kind:      KindPrivate,
		Alternates: uniq(
			canonical,
			bare,
			bare+"@"+types.LegacyUserServer,
			bare+"@"+types.HiddenUserServer,
		),
	}
}

// bareUser strips the leading plus, the agent (".N") and device (":N") qualifiers
// whatsmeow puts on AD JIDs.
func bareUser(user string) string {
	user = strings.TrimPrefix(strings.TrimSpace(user), "+")
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, '.'); i >= 0 {
		user = user[:i]
	}
	return user
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func uniq(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
