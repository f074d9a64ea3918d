package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInBailiwickExactMatch(t *testing.T) {
	require.True(t, InBailiwick("example.com.", "example.com."))
}

func TestInBailiwickSubdomain(t *testing.T) {
	require.True(t, InBailiwick("example.com.", "www.example.com."))
	require.True(t, InBailiwick("example.com", "a.b.example.com"))
}

func TestInBailiwickCaseInsensitive(t *testing.T) {
	require.True(t, InBailiwick("Example.COM.", "www.EXAMPLE.com."))
}

func TestInBailiwickRejectsUnrelatedDomain(t *testing.T) {
	require.False(t, InBailiwick("example.com.", "attacker.test."))
}

func TestInBailiwickRejectsSuffixLookalike(t *testing.T) {
	// "evil-example.com" ends with the raw string "example.com" but is not
	// a subdomain of it, and must not pass a naive suffix check.
	require.False(t, InBailiwick("example.com.", "evil-example.com."))
}

func TestInBailiwickRejectsParent(t *testing.T) {
	require.False(t, InBailiwick("www.example.com.", "example.com."))
}
