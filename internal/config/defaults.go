package config

// Defaults returns the baseline configuration. Credential fields default to
// environment substitution markers so that a template written by `init`
// resolves from the environment at load time without secrets on disk.
func Defaults() *Config {
	return &Config{
		Account: AccountConfig{
			Username: "${RESONITE_USERNAME:-}",
			Password: "${RESONITE_PASSWORD:-}",
			TOTP:     "${RESONITE_TOTP:-}",
		},
		Behavior: BehaviorConfig{
			AutoAcceptRequests:    "all",
			AutoExtendLogin:       true,
			UpdateStatus:          true,
			ReadMessagesOnReceive: true,
		},
		Platform: PlatformConfig{
			APIBaseURL:   "https://api.resonite.com",
			HubURL:       "wss://api.resonite.com/hub",
			AssetBaseURL: "https://assets.resonite.com/",
			AccessKey:    "${RESONITE_ACCESS_KEY:-}",
		},
		Intervals: IntervalsConfig{
			AutoAcceptSeconds:     120,
			StatusSeconds:         90,
			ExtendLoginSeconds:    600,
			SettleSeconds:         5,
			LoginTimeoutSeconds:   30,
			RequestTimeoutSeconds: 10,
			HubTimeoutSeconds:     30,
			ReconnectDelaySeconds: []int{0, 2, 10, 30},
			RestartDelaySeconds:   30,
		},
		Health: HealthConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         3000,
			CommandToken: "${CONTACTBOT_COMMAND_TOKEN:-}",
		},
		General: GeneralConfig{
			VersionName: "Contact Bot",
			LogLevel:    "info",
		},
	}
}
