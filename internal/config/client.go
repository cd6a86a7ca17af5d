package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
)

// clientFile is the OAuth client JSON downloaded from the Google Cloud
// console, placed in the config dir.
const clientFile = "google_client.json"

// GoogleClient is an OAuth client used to refresh Google account tokens.
type GoogleClient struct {
	ID     string
	Secret string
}

func (c GoogleClient) valid() bool {
	return c.ID != "" && c.Secret != ""
}

// discoverGoogleClient finds default OAuth client credentials for Google
// accounts: first google_client.json in dir, then the constants shipped with
// the opencode Antigravity auth plugin. GOOGLE_CLIENT_ID and
// GOOGLE_CLIENT_SECRET override whatever is found here.
func discoverGoogleClient(dir string) GoogleClient {
	if c, ok := readClientFile(filepath.Join(dir, clientFile)); ok {
		return c
	}
	if home, err := os.UserHomeDir(); err == nil {
		if c, ok := readPluginConstants(pluginConstantsPath(home)); ok {
			return c
		}
	}
	return GoogleClient{}
}

// readClientFile accepts both the "installed" and "web" client layouts.
func readClientFile(path string) (GoogleClient, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GoogleClient{}, false
	}

	type credentials struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	var doc struct {
		Installed *credentials `json:"installed"`
		Web       *credentials `json:"web"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return GoogleClient{}, false
	}

	for _, creds := range []*credentials{doc.Installed, doc.Web} {
		if creds == nil {
			continue
		}
		if c := (GoogleClient{ID: creds.ClientID, Secret: creds.ClientSecret}); c.valid() {
			return c, true
		}
	}
	return GoogleClient{}, false
}

var (
	pluginIDRe     = regexp.MustCompile(`ANTIGRAVITY_CLIENT_ID\s*=\s*"([^"]+)"`)
	pluginSecretRe = regexp.MustCompile(`ANTIGRAVITY_CLIENT_SECRET\s*=\s*"([^"]+)"`)
)

func pluginConstantsPath(home string) string {
	return filepath.Join(home, ".config", "opencode", "node_modules",
		"opencode-antigravity-auth", "dist", "src", "constants.d.ts")
}

func readPluginConstants(path string) (GoogleClient, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GoogleClient{}, false
	}
	return parsePluginConstants(string(data))
}

func parsePluginConstants(content string) (GoogleClient, bool) {
	var c GoogleClient
	if m := pluginIDRe.FindStringSubmatch(content); m != nil {
		c.ID = m[1]
	}
	if m := pluginSecretRe.FindStringSubmatch(content); m != nil {
		c.Secret = m[1]
	}
	return c, c.valid()
}
