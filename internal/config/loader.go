package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load builds a Configuration from defaults, overlaid with an optional
// config file. DISPATCHD_-prefixed environment variables are consulted only
// when a config file is given, and only for keys that file sets; without a
// config file Load returns the defaults unchanged.
func Load(configFile string) (*Configuration, error) {
	v := viper.New()
	v.SetEnvPrefix("DISPATCHD")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := NewConfigurationWithOptionsAndDefaults()
	if configFile != "" {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshalling configuration: %w", err)
		}
	}
	return cfg, nil
}
