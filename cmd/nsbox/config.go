package main

import (
	"errors"
	"fmt"
	"os"

	"nsbox/internal/sandbox/control"
	"nsbox/internal/sandbox/engine"
	"nsbox/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/etc/nsbox/config.yaml"

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	CgroupRoot           string `yaml:"cgroupRoot"`
	HelperPath           string `yaml:"helperPath"`
	SeccompProfile       string `yaml:"seccompProfile"`
	HelperStderrMaxBytes int    `yaml:"helperStderrMaxBytes"`
}

// AppConfig holds nsbox config.
type AppConfig struct {
	Logger  logger.Config `yaml:"logger"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path. A missing file is only tolerated for the
// default location, where it means built-in defaults.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}
	if cfg.Sandbox.HelperStderrMaxBytes < 0 {
		return nil, fmt.Errorf("sandbox.helperStderrMaxBytes must not be negative")
	}
	return &cfg, nil
}

// loadSeccompProfile reads a JSON or YAML syscall profile.
func loadSeccompProfile(path string) (*control.SeccompProfile, error) {
	var profile control.SeccompProfile
	if err := loadYAML(path, &profile); err != nil {
		return nil, fmt.Errorf("seccomp profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("seccomp profile %s: %w", path, err)
	}
	return &profile, nil
}

func (s SandboxConfig) toEngineConfig() (engine.Config, error) {
	cfg := engine.Config{
		CgroupRoot:           s.CgroupRoot,
		HelperPath:           s.HelperPath,
		HelperStderrMaxBytes: s.HelperStderrMaxBytes,
	}
	if s.SeccompProfile != "" {
		profile, err := loadSeccompProfile(s.SeccompProfile)
		if err != nil {
			return engine.Config{}, err
		}
		cfg.Seccomp = profile
	}
	return cfg, nil
}
