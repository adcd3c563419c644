// Package model mirrors the entity definitions of the Chariot backend.
package model

import (
	"fmt"
	"strings"
)

// Kind is the first #-delimited segment of an entity key.
type Kind string

const (
	KindAsset      Kind = "asset"
	KindRisk       Kind = "risk"
	KindAttribute  Kind = "attribute"
	KindSeed       Kind = "seed"
	KindPreseed    Kind = "preseed"
	KindJob        Kind = "job"
	KindCredential Kind = "credential"
	KindWebpage    Kind = "webpage"
	KindADDomain   Kind = "addomain"
	KindADUser     Kind = "aduser"
	KindADComputer Kind = "adcomputer"
	KindADGroup    Kind = "adgroup"
)

// AssetKey builds the canonical asset key for a dns/identifier pair.
func AssetKey(dns, name string) string {
	return fmt.Sprintf("#asset#%s#%s", dns, name)
}

// RiskKey builds the canonical risk key for a dns/name pair.
func RiskKey(dns, name string) string {
	return fmt.Sprintf("#risk#%s#%s", dns, name)
}

// AttributeKey builds the canonical attribute key. The source entity key is
// appended verbatim, giving keys of the form #attribute#name#value#asset#....
func AttributeKey(name, value, sourceKey string) string {
	return fmt.Sprintf("#attribute#%s#%s%s", name, value, sourceKey)
}

// KindOfKey returns the kind segment of an entity key, or "" if the string
// is not a #-prefixed key.
func KindOfKey(key string) Kind {
	if !strings.HasPrefix(key, "#") {
		return ""
	}
	parts := strings.Split(key, "#")
	if len(parts) < 2 {
		return ""
	}
	return Kind(parts[1])
}

// CredentialUUID extracts the trailing UUID segment from a credential key of
// the form #credential#{category}#{type}#{uuid}. Credentials are always
// attached to jobs by reference; the raw values never transit the client.
func CredentialUUID(key string) (string, bool) {
	parts := strings.Split(key, "#")
	if len(parts) < 5 || parts[1] != string(KindCredential) {
		return "", false
	}
	id := parts[len(parts)-1]
	if id == "" {
		return "", false
	}
	return id, true
}

// SanitizeFilename replaces characters that are unsafe in local filenames
// with underscores. Entity keys routinely contain '#' and '/' and end up as
// download targets.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, name)
}
