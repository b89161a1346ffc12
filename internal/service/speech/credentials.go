package speech

import (
	"fmt"
	"strings"
)

// resolveCredentials returns the normalized AppID and AccessToken pair,
// with a clear error when either is missing.
func resolveCredentials(cfg *Config) (string, string, error) {
	if cfg == nil {
		return "", "", fmt.Errorf("speech config is not initialized")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", fmt.Errorf("speech config is missing AppID or AccessToken")
	}

	return appID, token, nil
}
