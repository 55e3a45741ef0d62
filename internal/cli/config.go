// File: internal/cli/config.go
// Author: momentics <momentics@gmail.com>
//
// Flag, environment and file configuration via viper.

package cli

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/momentics/hioload-netio/control"
	"github.com/momentics/hioload-netio/internal/logging"
)

// Wrap is the column at which flag help is wrapped.
const Wrap = 50

// WrapString wraps text at Wrap columns.
func WrapString(text string) string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > Wrap {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return strings.Join(lines, "\n")
}

// newViper loads .env files, binds cmd's flags and, when --config is set,
// reads that file.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix("netio")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// LoadConfig decodes v over the defaults and validates the result.
func LoadConfig(v *viper.Viper) (*control.Config, error) {
	cfg := control.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger builds the process logger and installs it globally.
func setupLogger(v *viper.Viper) (*zap.Logger, error) {
	log, err := logging.New(v.GetString("log-level"), v.GetBool("log-development"))
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}
