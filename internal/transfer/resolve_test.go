package transfer

import (
	"testing"

	"github.com/voxsec/voxsec/internal/config"
)

func testDestinations() []config.TransferDestination {
	return []config.TransferDestination{
		{Name: "Sales", Kind: config.KindExtension, Address: "1001",
			Aliases: []string{"sales team"}, Priority: 1, Enabled: true},
		{Name: "Support", Kind: config.KindExtension, Address: "1002",
			Aliases: []string{"helpdesk", "technical support"}, Priority: 2, Enabled: true},
		{Name: "Reception", Kind: config.KindExtension, Address: "1000",
			Enabled: true, Default: true},
		{Name: "Old Sales", Kind: config.KindExtension, Address: "1099",
			Aliases: []string{"sales"}, Priority: 9, Enabled: false},
	}
}

func TestResolve_ExactNameMatch(t *testing.T) {
	d := Resolve("Sales", testDestinations())
	if d == nil || d.Address != "1001" {
		t.Fatalf("Resolve(Sales) = %+v", d)
	}
}

func TestResolve_AliasMatchIsCaseInsensitive(t *testing.T) {
	d := Resolve("HELPDESK", testDestinations())
	if d == nil || d.Name != "Support" {
		t.Fatalf("Resolve(HELPDESK) = %+v", d)
	}
}

func TestResolve_PhoneticMatch(t *testing.T) {
	// Transcription artifacts: same consonant skeleton, different spelling.
	for requested, want := range map[string]string{
		"suport":    "Support",
		"sails":     "Sales",
		"resepshun": "Reception",
	} {
		d := Resolve(requested, testDestinations())
		if d == nil || d.Name != want {
			t.Errorf("Resolve(%q) = %+v, want %s", requested, d, want)
		}
	}
}

func TestResolve_HigherPriorityWinsAmongMatches(t *testing.T) {
	dests := []config.TransferDestination{
		{Name: "Support", Address: "2001", Priority: 1, Enabled: true},
		{Name: "Support", Address: "2002", Priority: 5, Enabled: true},
	}
	d := Resolve("support", dests)
	if d == nil || d.Address != "2002" {
		t.Fatalf("Resolve picked %+v, want priority 5 entry", d)
	}
}

func TestResolve_DisabledEntriesAreSkipped(t *testing.T) {
	// "sales" is an alias of the disabled entry with priority 9; the
	// enabled Sales entry must win.
	d := Resolve("sales", testDestinations())
	if d == nil || d.Address != "1001" {
		t.Fatalf("Resolve(sales) = %+v", d)
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	d := Resolve("the warehouse manager", testDestinations())
	if d == nil || d.Name != "Reception" {
		t.Fatalf("Resolve(unmatched) = %+v, want default Reception", d)
	}
}

func TestResolve_NoMatchNoDefault(t *testing.T) {
	dests := []config.TransferDestination{
		{Name: "Sales", Address: "1001", Enabled: true},
	}
	if d := Resolve("accounting", dests); d != nil {
		t.Fatalf("Resolve(accounting) = %+v, want nil", d)
	}
}
