package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadWhitelist reads the auto-accept whitelist: a YAML file holding a flat
// list of user identifiers. A missing file is not an error; the whitelist
// is simply empty.
func LoadWhitelist(path string, logger *slog.Logger) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("whitelist file does not exist, skipping", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read whitelist %s: %w", path, err)
	}

	var ids []string
	if err := yaml.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse whitelist %s: %w", path, err)
	}

	logger.Info("loaded auto-accept whitelist", "path", path, "entries", len(ids))
	return ids, nil
}
