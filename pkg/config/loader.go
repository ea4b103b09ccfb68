package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/binarymachines/mercury/pkg/errors"
)

// EnvPrefix is the prefix of environment variables overriding file values.
const EnvPrefix = "MERCURY"

// LoadPipeline reads a pipeline description from a YAML or JSON file.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "read pipeline file %s", path)
	}
	return ParsePipeline(data, configType(path))
}

// ParsePipeline decodes a pipeline description. format is "yaml" or "json".
func ParsePipeline(data []byte, format string) (*Pipeline, error) {
	v := viper.New()
	v.SetConfigType(format)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setPolicyDefaults(v)

	content := substituteEnvVars(string(data))
	if err := v.ReadConfig(bytes.NewReader([]byte(content))); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse pipeline")
	}

	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "decode pipeline")
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func setPolicyDefaults(v *viper.Viper) {
	def := DefaultPolicy()
	v.SetDefault("policy.batch_size", def.BatchSize)
	v.SetDefault("policy.buffer_size", def.BufferSize)
	v.SetDefault("policy.workers", def.Workers)
	v.SetDefault("policy.error_policy", def.ErrorPolicy)
	v.SetDefault("policy.max_records", 0)
	v.SetDefault("policy.retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("policy.retry.initial_delay", def.Retry.InitialDelay)
	v.SetDefault("policy.retry.max_delay", def.Retry.MaxDelay)
	v.SetDefault("policy.retry.multiplier", def.Retry.Multiplier)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// LoadMapping reads a mapping rule file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "read mapping file %s", path)
	}

	var m Mapping
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &m); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "parse mapping file %s", path)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &m, nil
}

// SaveMapping writes a mapping rule file.
func SaveMapping(path string, m *Mapping) error {
	data, err := MarshalMapping(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write mapping file: %w", err)
	}
	return nil
}

// MarshalMapping renders a mapping as YAML.
func MarshalMapping(m *Mapping) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to marshal mapping: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var out strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		out.WriteString(content[:start])
		out.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	out.WriteString(content)
	return out.String()
}
