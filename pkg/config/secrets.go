package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Credentials maps credential keys (FRED_API_KEY, ...) to secrets.
type Credentials map[string]string

// LoadSecrets parses a dotenv-style secrets file. A missing file yields no
// credentials; providers that need one are then disabled.
func LoadSecrets(path string) (Credentials, error) {
	if path == "" {
		return Credentials{}, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, nil
		}
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	return Credentials(vals), nil
}

// Get returns the trimmed secret for key, or "".
func (c Credentials) Get(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSpace(c[key])
}
