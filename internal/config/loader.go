package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides fills secrets from the environment so they can stay out
// of the config file. An explicit file value wins.
func applyEnvOverrides(cfg *Config) {
	if cfg.Switch.Password == "" {
		cfg.Switch.Password = os.Getenv("VOXSEC_SWITCH_PASSWORD")
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("VOXSEC_PROVIDER_API_KEY")
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Store.PostgresDSN == "" {
		cfg.Store.PostgresDSN = os.Getenv("VOXSEC_POSTGRES_DSN")
	}
	if cfg.Sink.AuthToken == "" {
		cfg.Sink.AuthToken = os.Getenv("VOXSEC_SINK_TOKEN")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Switch.Addr == "" {
		errs = append(errs, errors.New("switch.addr is required"))
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; provider sessions will fail to authenticate")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; call records will not be persisted locally")
	}

	tenantIDs := make(map[string]int, len(cfg.Tenants))
	numbers := make(map[string]int)
	for i, tenant := range cfg.Tenants {
		prefix := fmt.Sprintf("tenants[%d]", i)
		for _, n := range tenant.Numbers {
			if prev, ok := numbers[n]; ok && prev != i {
				errs = append(errs, fmt.Errorf("%s.numbers contains %q already claimed by tenants[%d]", prefix, n, prev))
			}
			numbers[n] = i
		}
		if tenant.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := tenantIDs[tenant.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of tenants[%d]", prefix, tenant.ID, prev))
			}
			tenantIDs[tenant.ID] = i
		}

		if tenant.Timezone != "" {
			if _, err := time.LoadLocation(tenant.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("%s.timezone %q is not a valid IANA zone", prefix, tenant.Timezone))
			}
		}
		for j, w := range tenant.WorkingHours {
			if err := w.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s.working_hours[%d]: %w", prefix, j, err))
			}
		}

		errs = append(errs, validateDestinations(prefix, tenant.Destinations)...)
		errs = append(errs, validateSecretaries(prefix, tenant)...)
	}

	return errors.Join(errs...)
}

func validateDestinations(prefix string, dests []TransferDestination) []error {
	var errs []error
	defaults := 0
	names := make(map[string]int, len(dests))
	for i, d := range dests {
		dp := fmt.Sprintf("%s.destinations[%d]", prefix, i)
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", dp))
		} else {
			if prev, ok := names[d.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of destinations[%d]", dp, d.Name, prev))
			}
			names[d.Name] = i
		}
		if !d.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: extension, ring_group, queue, external, voicemail", dp, d.Kind))
		}
		if d.Address == "" {
			errs = append(errs, fmt.Errorf("%s.address is required", dp))
		} else if d.Kind.IsValid() {
			if err := validateAddress(d.Kind, d.Address); err != nil {
				errs = append(errs, fmt.Errorf("%s.address: %w", dp, err))
			}
		}
		for j, w := range d.WorkingHours {
			if err := w.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s.working_hours[%d]: %w", dp, j, err))
			}
		}
		if d.Fallback != "" && !d.Fallback.IsValid() {
			errs = append(errs, fmt.Errorf("%s.fallback %q is invalid; valid values: offer_ticket, auto_ticket, voicemail, return_to_agent, hang_up", dp, d.Fallback))
		}
		if d.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.max_retries must not be negative", dp))
		}
		if d.Default {
			defaults++
		}
	}
	if defaults > 1 {
		errs = append(errs, fmt.Errorf("%s.destinations declares %d defaults; at most one is allowed", prefix, defaults))
	}
	return errs
}

// validateAddress checks that a destination address matches the syntax its
// kind dials with.
func validateAddress(kind DestinationKind, address string) error {
	switch kind {
	case KindExtension, KindVoicemail:
		if !allDigits(address) {
			return fmt.Errorf("%q is not a numeric %s address", address, kind)
		}
	case KindExternal:
		digits := strings.TrimPrefix(address, "+")
		if !allDigits(digits) || len(digits) < 7 || len(digits) > 15 {
			return fmt.Errorf("%q is not an external number (optional +, 7-15 digits)", address)
		}
	case KindRingGroup, KindQueue:
		for _, r := range address {
			if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' ||
				r >= 'A' && r <= 'Z' || r == '_' || r == '-' {
				continue
			}
			return fmt.Errorf("%q is not a valid %s id", address, kind)
		}
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateSecretaries(prefix string, tenant Tenant) []error {
	var errs []error
	if len(tenant.Secretaries) == 0 {
		errs = append(errs, fmt.Errorf("%s.secretaries must not be empty", prefix))
	}
	ids := make(map[string]int, len(tenant.Secretaries))
	for i, s := range tenant.Secretaries {
		sp := fmt.Sprintf("%s.secretaries[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", sp))
		} else {
			if prev, ok := ids[s.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of secretaries[%d]", sp, s.ID, prev))
			}
			ids[s.ID] = i
		}
		if s.VAD.Mode != "" && !s.VAD.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("%s.vad.mode %q is invalid; valid values: server_vad, semantic_vad, none", sp, s.VAD.Mode))
		}
		if s.VAD.Threshold < 0 || s.VAD.Threshold > 1 {
			errs = append(errs, fmt.Errorf("%s.vad.threshold %.2f is out of range [0, 1]", sp, s.VAD.Threshold))
		}
		if s.MaxTurns < 0 {
			errs = append(errs, fmt.Errorf("%s.max_turns must not be negative", sp))
		}
	}
	return errs
}
