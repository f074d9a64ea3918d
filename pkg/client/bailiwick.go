package client

import "strings"

// InBailiwick reports whether answered is in-bailiwick of queried: the
// same name, or a descendant of it. A resolver must discard any answer,
// authority, or additional record whose owner name falls outside the
// zone it actually asked about — otherwise an off-path attacker (or a
// misbehaving upstream) can smuggle unrelated records into the cache
// under a victim domain's name, a classic cache-poisoning vector.
//
// The comparison is label-aware and case-insensitive: "evil-example.com"
// must not match bailiwick "example.com" just because the raw string
// happens to end with it.
func InBailiwick(queried, answered string) bool {
	q := normalizeName(queried)
	a := normalizeName(answered)
	if q == "" {
		return true
	}
	if a == q {
		return true
	}
	return strings.HasSuffix(a, "."+q)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
