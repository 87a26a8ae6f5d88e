package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFiles are loaded by LoadEnvFiles when no paths are given.
var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadEnvFiles applies KEY=VALUE files to the process environment for local
// runs. Missing files are skipped; later files override earlier ones, and
// values already exported in the environment win over every file. It
// returns the files that were loaded.
func LoadEnvFiles(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = DefaultEnvFiles
	}

	merged := map[string]string{}
	loaded := make([]string, 0, len(paths))
	for _, p := range paths {
		vals, err := godotenv.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range vals {
			merged[k] = v
		}
		loaded = append(loaded, p)
	}

	for k, v := range merged {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return loaded, fmt.Errorf("set %s: %w", k, err)
		}
	}
	return loaded, nil
}
