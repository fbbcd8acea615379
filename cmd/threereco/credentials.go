package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/connor-davis/threereco-admin/internal/config"
	"github.com/connor-davis/threereco-admin/transport"
)

// credentials is what login leaves behind for later commands.
type credentials struct {
	Token    string    `yaml:"token"`
	Email    string    `yaml:"email,omitempty"`
	SignedIn time.Time `yaml:"signed_in"`
}

// credentialsPath sits next to the config file.
func credentialsPath(configPath string) string {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	return filepath.Join(filepath.Dir(configPath), "credentials.yaml")
}

func loadCredentials(path string) (credentials, error) {
	var c credentials
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("credentials %s: %w", path, err)
	}
	return c, nil
}

func saveCredentials(path string, c credentials) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func removeCredentials(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// sessionToken is the bearer token to persist after login. APIs that only
// set a session cookie get the cookie value, which they accept as a bearer
// token too.
func sessionToken(client *transport.Client) string {
	if token := client.AuthToken(); token != "" {
		return token
	}
	for _, c := range client.Cookies() {
		if strings.Contains(strings.ToLower(c.Name), "session") || strings.Contains(strings.ToLower(c.Name), "token") {
			return c.Value
		}
	}
	return ""
}
