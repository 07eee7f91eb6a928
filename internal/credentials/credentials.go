package credentials

import (
	"os"
	"path/filepath"
)

const (
	// EnvCredentials is the environment variable Google client libraries read
	EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS"

	// DefaultClientSecretFile is looked up in the working directory as a last resort
	DefaultClientSecretFile = "client_secret.json"
)

// ClientSecretPath returns the client secret path from the environment or the working directory
func ClientSecretPath() string {
	return Resolve("")
}

// Resolve returns explicit when set, otherwise the environment's credential
// file, otherwise client_secret.json in the working directory.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if path := os.Getenv(EnvCredentials); path != "" {
		return path
	}

	wd, err := os.Getwd()
	if err != nil {
		return DefaultClientSecretFile
	}
	return filepath.Join(wd, DefaultClientSecretFile)
}

// Exists reports whether path names a readable regular file
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
