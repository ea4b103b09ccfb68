package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/binarymachines/mercury/pkg/errors"
)

// Settings holds connector or stage specific key/value configuration.
// Keys are case-insensitive.
type Settings map[string]string

func (s Settings) lookup(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	if v, ok := s[key]; ok {
		return v, true
	}
	for k, v := range s {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// String returns the value for key or def when unset or empty.
func (s Settings) String(key, def string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	return def
}

// Require returns the value for key or a configuration error.
func (s Settings) Require(key string) (string, error) {
	v, ok := s.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", errors.Newf(errors.ErrorTypeConfig, "setting %q is required", key)
	}
	return v, nil
}

// Int returns the integer value for key.
func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeConfig, "setting %q must be an integer", key)
	}
	return n, nil
}

// Bool returns the boolean value for key.
func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrorTypeConfig, "setting %q must be a boolean", key)
	}
	return b, nil
}

// Duration returns the duration value for key.
func (s Settings) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeConfig, "setting %q must be a duration", key)
	}
	return d, nil
}

// List splits a comma separated value, dropping empty items.
func (s Settings) List(key string) []string {
	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
