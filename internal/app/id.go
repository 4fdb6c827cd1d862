package app

import (
	"crypto/rand"
	"strings"
)

// generateID produces a random hex identifier.
// Isolated here so the ID strategy can evolve independently.
func generateID() (string, error) {
	return randomHex(16)
}

// newAccessToken produces the rotating bearer token stored on a grant.
func newAccessToken() (string, error) {
	return randomHex(16)
}

// newAccessLink builds the tenant-facing slug for a grant:
// "<company-slug>-<random hex>". The company part keeps links recognizable;
// the random part keeps them unguessable.
func newAccessLink(companyName string) (string, error) {
	token, err := randomHex(8)
	if err != nil {
		return "", err
	}

	slug := slugify(companyName)
	if len(slug) < 2 {
		slug = "e"
	}
	return slug + "-" + token, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, n*2)
	for i, v := range b {
		out[i*2] = hex[v>>4]
		out[i*2+1] = hex[v&0x0f]
	}
	return string(out), nil
}

// slugify lowercases the name, collapses non-alphanumeric runs into single
// hyphens, and caps the length at 30.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
		if b.Len() >= 30 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
