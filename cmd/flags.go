package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each named flag in fs to the config key it overrides.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		flag := fs.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag --%s is not defined", name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s to %s: %w", name, key, err)
		}
	}
	return nil
}
