package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.d7z.net/devserver/pkg/config"
)

const defaultConfigPath = "devserver.yaml"

// LoadConfig reads the config file at path. The default file is optional,
// without it the built in defaults are served from the working directory.
func LoadConfig(path string, host string, port int) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if host != "" {
		c.Server.Host = host
	}
	if port != 0 {
		c.Server.Port = port
	}
	if host != "" || port != 0 {
		if err = c.Validate(); err != nil {
			return nil, err
		}
	}
	return c, nil
}
