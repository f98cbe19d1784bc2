package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ErrConfigKeyMissing is returned by BotConfig.Get for absent keys.
var ErrConfigKeyMissing = errors.New("config key missing")

// ErrBotConfigFormat reports a ConfigMap file that is not an array of objects
// with string or section members.
var ErrBotConfigFormat = errors.New("invalid bot config format")

// Well-known ConfigMap keys.
const (
	KeyProject     = "project"
	KeyVersion     = "version"
	KeyDescription = "description"
	KeyAuthor      = "author"
	KeyEndpoint    = "endpoint"
	KeyToken       = "token"
	KeyWebhookURL  = "webhookUrl"
)

// BotConfig is the immutable key/value snapshot read from the bot's JSON file.
type BotConfig struct {
	values map[string]string
}

// NewBotConfig copies values into a BotConfig.
func NewBotConfig(values map[string]string) BotConfig {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return BotConfig{values: copied}
}

// LoadBotConfig reads the JSON array at path. String members are stored under
// their own key; array members are treated as sections whose string members
// are stored as "<section>.<key>".
func LoadBotConfig(path string) (BotConfig, error) {
	if path == "" {
		return BotConfig{}, fmt.Errorf("bot config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return BotConfig{}, fmt.Errorf("read bot config: %w", err)
	}
	cfg, err := ParseBotConfig(data)
	if err != nil {
		return BotConfig{}, fmt.Errorf("parse bot config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseBotConfig decodes a ConfigMap document.
func ParseBotConfig(data []byte) (BotConfig, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return BotConfig{}, fmt.Errorf("%w: root must be an array: %w", ErrBotConfigFormat, err)
	}
	values := make(map[string]string)
	for i, raw := range root {
		var object map[string]json.RawMessage
		if err := json.Unmarshal(raw, &object); err != nil || object == nil {
			return BotConfig{}, fmt.Errorf("%w: element %d is not an object", ErrBotConfigFormat, i)
		}
		for key, member := range object {
			if err := addMember(values, key, member); err != nil {
				return BotConfig{}, err
			}
		}
	}
	return BotConfig{values: values}, nil
}

func addMember(values map[string]string, key string, member json.RawMessage) error {
	member = bytes.TrimSpace(member)
	if len(member) > 0 && member[0] == '[' {
		var sections []map[string]json.RawMessage
		if err := json.Unmarshal(member, &sections); err != nil {
			return fmt.Errorf("%w: section %q must be an array of objects", ErrBotConfigFormat, key)
		}
		for _, section := range sections {
			for name, value := range section {
				s, err := stringValue(value)
				if err != nil {
					return fmt.Errorf("%w: %s.%s: %w", ErrBotConfigFormat, key, name, err)
				}
				values[key+"."+name] = s
			}
		}
		return nil
	}
	s, err := stringValue(member)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBotConfigFormat, key, err)
	}
	values[key] = s
	return nil
}

func stringValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	var s string
	if len(raw) == 0 || raw[0] != '"' {
		return "", fmt.Errorf("value %s is not a string", raw)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("value %s is not a string", raw)
	}
	return s, nil
}

// Get returns the value for key, or an error wrapping ErrConfigKeyMissing.
func (b BotConfig) Get(key string) (string, error) {
	v, ok := b.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrConfigKeyMissing, key)
	}
	return v, nil
}

// Lookup returns the value for key and whether it was present.
func (b BotConfig) Lookup(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Keys returns all keys, sorted.
func (b BotConfig) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Required returns the values for keys, or an error naming every missing key.
func (b BotConfig) Required(keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	var errs []error
	for _, k := range keys {
		v, err := b.Get(k)
		if err != nil || v == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrConfigKeyMissing, k))
			continue
		}
		out[k] = v
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
