// Package keychain loads profile configuration for the Chariot backend:
// base URL, credentials, and the optional assume-role account. Profiles live
// in a TOML file under the user's home directory; environment variables
// override individual fields.
package keychain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultAPI is the production backend.
	DefaultAPI = "https://api.chariot.praetorian.com"

	// DefaultProfile is used when none is named on the command line.
	DefaultProfile = "united-states"
)

// Profile is one named backend configuration.
type Profile struct {
	API          string `toml:"api"`
	Username     string `toml:"username"`
	APIKeyID     string `toml:"api_key_id"`
	APIKeySecret string `toml:"api_key_secret"`
	Account      string `toml:"account"`
}

type keychainFile struct {
	Profiles map[string]Profile `toml:"profile"`
}

// Keychain is the resolved configuration for one profile.
type Keychain struct {
	Name    string
	Profile Profile
}

// DefaultPath returns ~/.chariot/keychain.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "keychain.toml"
	}
	return filepath.Join(home, ".chariot", "keychain.toml")
}

// Load reads the named profile from path. A missing file yields the
// production defaults; a missing profile is an error. CHARIOT_* environment
// variables take precedence over file contents.
func Load(path, name string) (*Keychain, error) {
	if path == "" {
		path = DefaultPath()
	}
	if name == "" {
		name = DefaultProfile
	}

	profile := Profile{API: DefaultAPI}

	if _, err := os.Stat(path); err == nil {
		var file keychainFile
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("failed to parse keychain file %s: %w", path, err)
		}
		p, ok := file.Profiles[name]
		if !ok {
			return nil, fmt.Errorf("profile %q not found in %s; run 'chariot configure' to create it", name, path)
		}
		profile = p
		if profile.API == "" {
			profile.API = DefaultAPI
		}
	}

	applyEnv(&profile)

	if profile.APIKeyID == "" || profile.APIKeySecret == "" {
		return nil, fmt.Errorf("no API key configured for profile %q; run 'chariot configure' or set CHARIOT_API_KEY_ID and CHARIOT_API_KEY_SECRET", name)
	}

	return &Keychain{Name: name, Profile: profile}, nil
}

func applyEnv(p *Profile) {
	if v := os.Getenv("CHARIOT_API"); v != "" {
		p.API = v
	}
	if v := os.Getenv("CHARIOT_USERNAME"); v != "" {
		p.Username = v
	}
	if v := os.Getenv("CHARIOT_API_KEY_ID"); v != "" {
		p.APIKeyID = v
	}
	if v := os.Getenv("CHARIOT_API_KEY_SECRET"); v != "" {
		p.APIKeySecret = v
	}
	if v := os.Getenv("CHARIOT_ACCOUNT"); v != "" {
		p.Account = v
	}
}

// Save writes the profile back to the keychain file, creating the directory
// with owner-only permissions. Existing profiles under other names are kept.
func Save(path, name string, profile Profile) error {
	if path == "" {
		path = DefaultPath()
	}

	file := keychainFile{Profiles: map[string]Profile{}}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return fmt.Errorf("failed to parse existing keychain file: %w", err)
		}
		if file.Profiles == nil {
			file.Profiles = map[string]Profile{}
		}
	}
	file.Profiles[name] = profile

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create keychain directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open keychain file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(file); err != nil {
		return fmt.Errorf("failed to write keychain file: %w", err)
	}
	return nil
}

// BaseURL returns the backend base URL without a trailing slash.
func (k *Keychain) BaseURL() string {
	url := k.Profile.API
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}

// Headers returns the authentication and assume-role headers for backend
// requests.
func (k *Keychain) Headers() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + k.Profile.APIKeyID + ":" + k.Profile.APIKeySecret,
		"Content-Type":  "application/json",
	}
	if k.Profile.Account != "" {
		headers["account"] = k.Profile.Account
	}
	return headers
}

// Account returns the assume-role account, if any.
func (k *Keychain) Account() string {
	return k.Profile.Account
}
