package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// parseYAMLDuration fills dst from a duration field. Accepts Go duration
// strings ("700ms", "25s", "55m") and bare integers, taken as seconds.
// Empty leaves dst untouched.
func parseYAMLDuration(field, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: %s: invalid duration %q", field, s)
	}
	*dst = d
	return nil
}

// UnmarshalYAML decodes the duration fields from their string form.
func (p *ProviderConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		APIKey       string `yaml:"api_key"`
		Model        string `yaml:"model"`
		BaseURL      string `yaml:"base_url"`
		SessionLimit string `yaml:"session_limit"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.APIKey = raw.APIKey
	p.Model = raw.Model
	p.BaseURL = raw.BaseURL
	return parseYAMLDuration("provider.session_limit", raw.SessionLimit, &p.SessionLimit)
}

// UnmarshalYAML decodes the duration fields from their string form.
func (v *VADConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Mode            VADMode `yaml:"mode"`
		Threshold       float64 `yaml:"threshold"`
		PrefixPadding   string  `yaml:"prefix_padding"`
		SilenceDuration string  `yaml:"silence_duration"`
		Eagerness       string  `yaml:"eagerness"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v.Mode = raw.Mode
	v.Threshold = raw.Threshold
	v.Eagerness = raw.Eagerness
	if err := parseYAMLDuration("vad.prefix_padding", raw.PrefixPadding, &v.PrefixPadding); err != nil {
		return err
	}
	return parseYAMLDuration("vad.silence_duration", raw.SilenceDuration, &v.SilenceDuration)
}

// UnmarshalYAML decodes the duration fields from their string form.
func (d *TransferDestination) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Name            string          `yaml:"name"`
		Kind            DestinationKind `yaml:"kind"`
		Address         string          `yaml:"address"`
		WorkingHours    []HoursWindow   `yaml:"working_hours"`
		Aliases         []string        `yaml:"aliases"`
		Priority        int             `yaml:"priority"`
		Enabled         bool            `yaml:"enabled"`
		Default         bool            `yaml:"default"`
		Fallback        FallbackAction  `yaml:"fallback"`
		DialTimeout     string          `yaml:"dial_timeout"`
		MaxRetries      int             `yaml:"max_retries"`
		RetryDelay      string          `yaml:"retry_delay"`
		ResponseTimeout string          `yaml:"response_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	d.Name = raw.Name
	d.Kind = raw.Kind
	d.Address = raw.Address
	d.WorkingHours = raw.WorkingHours
	d.Aliases = raw.Aliases
	d.Priority = raw.Priority
	d.Enabled = raw.Enabled
	d.Default = raw.Default
	d.Fallback = raw.Fallback
	d.MaxRetries = raw.MaxRetries
	if err := parseYAMLDuration("destination.dial_timeout", raw.DialTimeout, &d.DialTimeout); err != nil {
		return err
	}
	if err := parseYAMLDuration("destination.retry_delay", raw.RetryDelay, &d.RetryDelay); err != nil {
		return err
	}
	return parseYAMLDuration("destination.response_timeout", raw.ResponseTimeout, &d.ResponseTimeout)
}
