package config

import (
	"fmt"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

// LoadConfigFile reads the file given with --config, if any, into v and uses
// its keys for the flags that were not set on the command line or through
// env vars. Keys are flag names, eg. `rpc-url: http://localhost:8080`.
func LoadConfigFile(c *cli.Context, v *viper.Viper) error {
	path := c.String(ConfigFile.Name)
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	for _, flag := range flags {
		name := flag.Names()[0]
		if name == ConfigFile.Name || c.IsSet(name) || !v.IsSet(name) {
			continue
		}
		if err := c.Set(name, v.GetString(name)); err != nil {
			return fmt.Errorf("invalid value for %s in config file: %w", name, err)
		}
	}

	return nil
}
