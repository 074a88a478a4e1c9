package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Load fills dst from the process environment using cleanenv struct tags
// (`env`, `env-default`, `env-required`). A .env file in the working
// directory is read first when present; real environment variables win.
func Load(dst any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := cleanenv.ReadEnv(dst); err != nil {
		return fmt.Errorf("read env: %w", err)
	}
	return nil
}

// ValidatePort reports whether v is a usable TCP port.
func ValidatePort(name, v string) error {
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%s must be a valid TCP port (got %q)", name, v)
	}
	return nil
}

// Service holds the settings every binary in this repository shares.
type Service struct {
	Name string `env:"SERVICE_NAME"`
	Port string `env:"PORT"`
}

// Resolve applies per-binary defaults and validates the port.
func (s *Service) Resolve(name, port string) error {
	if s.Name == "" {
		s.Name = name
	}
	if s.Port == "" {
		s.Port = port
	}
	return ValidatePort("PORT", s.Port)
}
