package main

import (
	"os"

	"github.com/vnykmshr/crawlqos/pkg/config"
)

type SettingsCmd struct{}

func (c *SettingsCmd) Run(cli *CLI) error {
	s, err := loadSettings(cli.Config)
	if err != nil {
		return err
	}
	out, err := s.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
