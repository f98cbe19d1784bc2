package media

import (
	"errors"
	"fmt"
)

// Settings are the per-platform values read from the bot configuration.
type Settings struct {
	APIURL     string
	Token      string
	OutputPath string
}

// Lookup reads a bot configuration key.
type Lookup interface {
	Get(key string) (string, error)
}

// LoadSettings reads "<platform>.apiUrl", "<platform>.token" and "<platform>.outputPath".
// The returned error joins every missing key.
func LoadSettings(cfg Lookup, platform Platform) (Settings, error) {
	var errs []error
	get := func(key string) string {
		v, err := cfg.Get(fmt.Sprintf("%s.%s", platform, key))
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	s := Settings{
		APIURL:     get("apiUrl"),
		Token:      get("token"),
		OutputPath: get("outputPath"),
	}
	if len(errs) > 0 {
		return Settings{}, fmt.Errorf("%s settings: %w", platform, errors.Join(errs...))
	}
	return s, nil
}
