package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is read by LoadEnv when no path is given.
const DefaultEnvFile = ".env"

// LoadEnv copies variables from a dotenv file into the process environment
// without overriding variables that are already set. A missing default file is
// not an error; a missing explicit path is.
func LoadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
