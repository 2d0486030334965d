package mailflow

import (
	"context"

	"github.com/goliatone/go-mailflow/core"
)

type Config = core.Config

type MailboxConfig = core.MailboxConfig

type DeadLetter = core.DeadLetter

type Alert = core.Alert

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig reads a YAML config file and layers runtime overrides on top.
func LoadConfig(ctx context.Context, path string, runtime Config) (Config, error) {
	return core.LoadConfig(ctx, path, runtime)
}
