package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  media_listen_addr: ":8090"
  log_level: info
switch:
  addr: "127.0.0.1:8021"
  password: secret
provider:
  api_key: sk-test
  model: gpt-4o-realtime-preview
store:
  postgres_dsn: "postgres://voxsec@localhost:5432/voxsec"
sink:
  url: "https://crm.example.com/calls"
tenants:
  - id: acme
    name: Acme GmbH
    timezone: Europe/Berlin
    working_hours:
      - day: monday
        start: "09:00"
        end: "17:00"
      - day: friday
        start: "09:00"
        end: "14:00"
    business_info:
      address: "Hauptstr. 1, Berlin"
    destinations:
      - name: Support
        kind: extension
        address: "1001"
        aliases: [helpdesk, "tech support"]
        priority: 10
        enabled: true
        default: true
        fallback: offer_ticket
      - name: Billing
        kind: ring_group
        address: "rg-billing"
        enabled: true
        fallback: auto_ticket
    secretaries:
      - id: reception
        instructions: "You are the virtual secretary for Acme GmbH."
        greeting: "Acme GmbH, how can I help you?"
        voice: marin
        vad:
          mode: server_vad
          threshold: 0.6
          silence_duration: 700ms
        tools: [request_handoff, take_message, get_business_info, end_call]
        handoff_keywords: [urgent, emergency]
        max_turns: 40
        fallback_message: "I'm having trouble connecting. Someone will call you back."
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	tenant := cfg.Tenant("acme")
	if tenant == nil {
		t.Fatal("tenant acme not found")
	}
	if tenant.Name != "Acme GmbH" {
		t.Errorf("tenant name = %q", tenant.Name)
	}
	if len(tenant.Destinations) != 2 {
		t.Fatalf("destinations = %d, want 2", len(tenant.Destinations))
	}
	if !tenant.Destinations[0].Default {
		t.Error("Support should be the default destination")
	}

	sec := tenant.Secretary("")
	if sec == nil || sec.ID != "reception" {
		t.Fatalf("default secretary = %+v", sec)
	}
	if sec.VAD.Mode != VADServer {
		t.Errorf("vad mode = %q", sec.VAD.Mode)
	}
	if sec.VAD.SilenceDuration != 700*time.Millisecond {
		t.Errorf("silence_duration = %v", sec.VAD.SilenceDuration)
	}
	if sec.MaxTurns != 40 {
		t.Errorf("max_turns = %d", sec.MaxTurns)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	bad := strings.Replace(validYAML, "log_level: info", "log_levle: info", 1)
	if _, err := LoadFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s string) string
		wantSub string
	}{
		{
			name:    "bad log level",
			mutate:  func(s string) string { return strings.Replace(s, "log_level: info", "log_level: verbose", 1) },
			wantSub: "log_level",
		},
		{
			name:    "missing switch addr",
			mutate:  func(s string) string { return strings.Replace(s, `addr: "127.0.0.1:8021"`, `addr: ""`, 1) },
			wantSub: "switch.addr",
		},
		{
			name:    "bad destination kind",
			mutate:  func(s string) string { return strings.Replace(s, "kind: extension", "kind: teleporter", 1) },
			wantSub: "kind",
		},
		{
			name:    "bad fallback action",
			mutate:  func(s string) string { return strings.Replace(s, "fallback: offer_ticket", "fallback: shrug", 1) },
			wantSub: "fallback",
		},
		{
			name:    "bad vad mode",
			mutate:  func(s string) string { return strings.Replace(s, "mode: server_vad", "mode: psychic", 1) },
			wantSub: "vad.mode",
		},
		{
			name:    "bad timezone",
			mutate:  func(s string) string { return strings.Replace(s, "Europe/Berlin", "Mars/Olympus", 1) },
			wantSub: "timezone",
		},
		{
			name:    "bad working hours order",
			mutate:  func(s string) string { return strings.Replace(s, `start: "09:00"`, `start: "18:00"`, 1) },
			wantSub: "working_hours",
		},
		{
			name:    "duplicate tenant id",
			mutate:  func(s string) string { return s + "\n  - id: acme\n    secretaries:\n      - id: x\n" },
			wantSub: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.mutate(validYAML)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_MultipleDefaultsRejected(t *testing.T) {
	bad := strings.Replace(validYAML, "fallback: auto_ticket", "fallback: auto_ticket\n        default: true", 1)
	_, err := LoadFromReader(strings.NewReader(bad))
	if err == nil || !strings.Contains(err.Error(), "defaults") {
		t.Fatalf("err = %v, want multiple-defaults error", err)
	}
}

func TestSecretary_Allows(t *testing.T) {
	s := &Secretary{Tools: []string{"take_message", "end_call"}}
	if !s.Allows("take_message") {
		t.Error("take_message should be allowed")
	}
	if s.Allows("request_handoff") {
		t.Error("request_handoff should be blocked by the allow-list")
	}
	open := &Secretary{}
	if !open.Allows("anything") {
		t.Error("empty allow-list should permit everything")
	}
}

func TestTenant_OpenAt(t *testing.T) {
	tenant := &Tenant{
		Timezone: "UTC",
		WorkingHours: []HoursWindow{
			{Day: "monday", Start: "09:00", End: "17:00"},
		},
	}

	// 2026-08-24 is a Monday.
	inside := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	if !tenant.OpenAt(inside) {
		t.Error("10:30 Monday should be open")
	}
	before := time.Date(2026, 8, 24, 8, 59, 0, 0, time.UTC)
	if tenant.OpenAt(before) {
		t.Error("08:59 Monday should be closed")
	}
	atEnd := time.Date(2026, 8, 24, 17, 0, 0, 0, time.UTC)
	if tenant.OpenAt(atEnd) {
		t.Error("17:00 Monday should be closed (end is exclusive)")
	}
	tuesday := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	if tenant.OpenAt(tuesday) {
		t.Error("Tuesday should be closed")
	}

	always := &Tenant{}
	if !always.OpenAt(inside) {
		t.Error("tenant without working hours should always be open")
	}
}

func TestTenant_OpenAt_Timezone(t *testing.T) {
	tenant := &Tenant{
		Timezone: "Europe/Berlin",
		WorkingHours: []HoursWindow{
			{Day: "monday", Start: "09:00", End: "17:00"},
		},
	}
	// 07:30 UTC on Monday 2026-08-24 is 09:30 in Berlin (CEST).
	if !tenant.OpenAt(time.Date(2026, 8, 24, 7, 30, 0, 0, time.UTC)) {
		t.Error("09:30 Berlin time should be open")
	}
	// 06:30 UTC is 08:30 in Berlin.
	if tenant.OpenAt(time.Date(2026, 8, 24, 6, 30, 0, 0, time.UTC)) {
		t.Error("08:30 Berlin time should be closed")
	}
}

func TestTenantByNumber(t *testing.T) {
	cfg := &Config{Tenants: []Tenant{
		{ID: "acme", Numbers: []string{"9000", "9001"}},
		{ID: "globex", Numbers: []string{"9100"}},
	}}

	if got := cfg.TenantByNumber("9001"); got == nil || got.ID != "acme" {
		t.Errorf("TenantByNumber(9001) = %v, want acme", got)
	}
	if got := cfg.TenantByNumber("9100"); got == nil || got.ID != "globex" {
		t.Errorf("TenantByNumber(9100) = %v, want globex", got)
	}
	if got := cfg.TenantByNumber("5555"); got != nil {
		t.Errorf("TenantByNumber(5555) = %v, want nil", got)
	}

	// A single tenant receives every number.
	solo := &Config{Tenants: []Tenant{{ID: "acme"}}}
	if got := solo.TenantByNumber("anything"); got == nil || got.ID != "acme" {
		t.Errorf("single-tenant TenantByNumber = %v, want acme", got)
	}
}

func TestValidate_DuplicateNumbers(t *testing.T) {
	cfg := &Config{
		Switch: SwitchConfig{Addr: "localhost:8021"},
		Tenants: []Tenant{
			{ID: "acme", Numbers: []string{"9000"}, Secretaries: []Secretary{{ID: "s1"}}},
			{ID: "globex", Numbers: []string{"9000"}, Secretaries: []Secretary{{ID: "s1"}}},
		},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "already claimed") {
		t.Errorf("Validate = %v, want duplicate number error", err)
	}
}

func TestLoadFromReader_EnvOverrides(t *testing.T) {
	t.Setenv("VOXSEC_SWITCH_PASSWORD", "env-secret")
	t.Setenv("VOXSEC_PROVIDER_API_KEY", "sk-env")

	cfg, err := LoadFromReader(strings.NewReader(`
switch:
  addr: "127.0.0.1:8021"
tenants:
  - id: acme
    secretaries:
      - id: reception
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Switch.Password != "env-secret" {
		t.Errorf("switch password = %q, want env-secret", cfg.Switch.Password)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("provider api key = %q, want sk-env", cfg.Provider.APIKey)
	}
}

func TestLoadFromReader_FileValueBeatsEnv(t *testing.T) {
	t.Setenv("VOXSEC_SWITCH_PASSWORD", "env-secret")

	cfg, err := LoadFromReader(strings.NewReader(`
switch:
  addr: "127.0.0.1:8021"
  password: from-file
tenants:
  - id: acme
    secretaries:
      - id: reception
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Switch.Password != "from-file" {
		t.Errorf("switch password = %q, want from-file", cfg.Switch.Password)
	}
}

func TestParseYAMLDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "700ms", want: 700 * time.Millisecond},
		{in: "25s", want: 25 * time.Second},
		{in: "55m", want: 55 * time.Minute},
		{in: "30", want: 30 * time.Second},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		var got time.Duration
		err := parseYAMLDuration("test.field", tt.in, &got)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseYAMLDuration(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseYAMLDuration(%q): %v", tt.in, err)
		} else if got != tt.want {
			t.Errorf("parseYAMLDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadFromReader_DestinationTimings(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
switch:
  addr: "127.0.0.1:8021"
provider:
  session_limit: 55m
tenants:
  - id: acme
    destinations:
      - name: Support
        kind: extension
        address: "1001"
        enabled: true
        dial_timeout: 20s
        retry_delay: 5s
        response_timeout: 10s
    secretaries:
      - id: reception
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Provider.SessionLimit != 55*time.Minute {
		t.Errorf("session_limit = %v, want 55m", cfg.Provider.SessionLimit)
	}
	d := cfg.Tenants[0].Destinations[0]
	if d.DialTimeout != 20*time.Second || d.RetryDelay != 5*time.Second || d.ResponseTimeout != 10*time.Second {
		t.Errorf("destination timings = %v/%v/%v", d.DialTimeout, d.RetryDelay, d.ResponseTimeout)
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		kind    DestinationKind
		address string
		wantErr bool
	}{
		{KindExtension, "1001", false},
		{KindExtension, "10a1", true},
		{KindVoicemail, "9000", false},
		{KindVoicemail, "box-1", true},
		{KindExternal, "+493012345678", false},
		{KindExternal, "493012345678", false},
		{KindExternal, "+49 30 1234", true},
		{KindExternal, "12345", true},
		{KindRingGroup, "rg-billing", false},
		{KindRingGroup, "rg billing", true},
		{KindQueue, "support_q1", false},
		{KindQueue, "support q", true},
	}
	for _, tt := range tests {
		err := validateAddress(tt.kind, tt.address)
		if tt.wantErr && err == nil {
			t.Errorf("validateAddress(%s, %q) succeeded, want error", tt.kind, tt.address)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("validateAddress(%s, %q): %v", tt.kind, tt.address, err)
		}
	}
}

func TestLoadFromReader_QueueDestinationWithOwnHours(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
switch:
  addr: "127.0.0.1:8021"
tenants:
  - id: acme
    timezone: UTC
    working_hours:
      - day: monday
        start: "09:00"
        end: "17:00"
    destinations:
      - name: Hotline
        kind: queue
        address: "hotline"
        enabled: true
        working_hours:
          - day: monday
            start: "08:00"
            end: "20:00"
    secretaries:
      - id: reception
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	d := cfg.Tenants[0].Destinations[0]
	if d.Kind != KindQueue {
		t.Errorf("kind = %q, want queue", d.Kind)
	}
	if len(d.WorkingHours) != 1 || d.WorkingHours[0].End != "20:00" {
		t.Errorf("destination working_hours = %+v", d.WorkingHours)
	}
}

func TestValidate_BadDestinationAddressAndHours(t *testing.T) {
	bad := strings.Replace(validYAML, `address: "1001"`, `address: "10x1"`, 1)
	_, err := LoadFromReader(strings.NewReader(bad))
	if err == nil || !strings.Contains(err.Error(), "address") {
		t.Fatalf("err = %v, want address syntax error", err)
	}

	bad = strings.Replace(validYAML, `address: "rg-billing"`, "address: \"rg-billing\"\n        working_hours:\n          - day: payday\n            start: \"09:00\"\n            end: \"17:00\"", 1)
	_, err = LoadFromReader(strings.NewReader(bad))
	if err == nil || !strings.Contains(err.Error(), "working_hours") {
		t.Fatalf("err = %v, want destination working_hours error", err)
	}
}

func TestTenant_OpenFor_DestinationOverride(t *testing.T) {
	tenant := &Tenant{
		Timezone: "UTC",
		WorkingHours: []HoursWindow{
			{Day: "monday", Start: "09:00", End: "17:00"},
		},
	}
	hotline := &TransferDestination{
		Name: "Hotline",
		WorkingHours: []HoursWindow{
			{Day: "monday", Start: "08:00", End: "20:00"},
		},
	}
	support := &TransferDestination{Name: "Support"}

	// 2026-08-24 is a Monday. 18:30 is outside tenant hours but inside the
	// hotline's own window.
	evening := time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC)
	if !tenant.OpenFor(hotline, evening) {
		t.Error("hotline should be open at 18:30 by its own hours")
	}
	if tenant.OpenFor(support, evening) {
		t.Error("support should follow the tenant hours and be closed at 18:30")
	}
	morning := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if !tenant.OpenFor(support, morning) {
		t.Error("support should be open at 10:00 by tenant hours")
	}
}
