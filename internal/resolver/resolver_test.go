package resolver

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
)

func ent(id, name, domain, areaName string) homeassistant.EntityInfo {
	return homeassistant.EntityInfo{
		EntityID:     id,
		FriendlyName: name,
		Domain:       domain,
		AreaName:     areaName,
	}
}

func TestResolve_PositionalWithDomainFilter(t *testing.T) {
	candidates := []homeassistant.EntityInfo{
		ent("light.shelf_top", "Shelf Top", "light", ""),
		ent("light.cabinet_top", "Cabinet Top", "light", ""),
		ent("light.floor_lamp", "Floor Lamp", "light", ""),
		ent("switch.top_outlet", "Top Outlet", "switch", ""),
		ent("light.main_fixture", "Main Fixture", "light", ""),
	}

	res := Resolve("turn on the top light", candidates, "light")
	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("got %d entities, want exactly the 2 positional matches: %+v", len(res.Entities), res.Entities)
	}
	got := map[string]bool{}
	for _, e := range res.Entities {
		got[e.EntityID] = true
	}
	if !got["light.shelf_top"] || !got["light.cabinet_top"] {
		t.Errorf("wrong entities resolved: %v", got)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0,1]", res.Confidence)
	}
}

func TestResolve_TieNarrowing(t *testing.T) {
	var candidates []homeassistant.EntityInfo
	for i := 1; i <= 6; i++ {
		candidates = append(candidates, ent(
			fmt.Sprintf("light.room%d_ceiling", i),
			fmt.Sprintf("Room %d Ceiling", i),
			"light", ""))
	}
	// Two lower scorers: friendly-name word overlap only.
	candidates = append(candidates,
		ent("light.porch", "Porch Lights", "light", ""),
		ent("light.hall_lights", "Hall Lights", "light", ""))

	res := Resolve("the ceiling lights please", candidates, "")
	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if len(res.Entities) != 6 {
		t.Fatalf("got %d entities, want only the 6 tied top scorers", len(res.Entities))
	}
	for _, e := range res.Entities {
		if !strings.Contains(e.EntityID, "ceiling") {
			t.Errorf("lower-scored %s should have been narrowed away", e.EntityID)
		}
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "narrowed 8 matches to 6") {
		t.Errorf("Warnings = %v, want tie-narrowing note", res.Warnings)
	}
}

func TestResolve_SmallMatchSetReturnedWhole(t *testing.T) {
	candidates := []homeassistant.EntityInfo{
		ent("light.desk_left", "Desk Left", "light", ""),
		ent("light.desk_right", "Desk Right", "light", ""),
		ent("light.window", "Window", "light", ""),
	}

	// "desk" scores two candidates differently from zero; both return
	// without narrowing even though their scores differ from each other.
	res := Resolve("the desk lamps", candidates, "")
	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("got %d entities, want both desk lights: %+v", len(res.Entities), res.Entities)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none for a small match set", res.Warnings)
	}
}

func TestResolve_AreaNarrowing(t *testing.T) {
	candidates := []homeassistant.EntityInfo{
		ent("light.kitchen_ceiling", "Kitchen Ceiling", "light", "Kitchen"),
		ent("light.office_lamp", "Office Lamp", "light", "Office"),
	}

	res := Resolve("turn on the kitchen ceiling light", candidates, "")
	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if len(res.Entities) != 1 || res.Entities[0].EntityID != "light.kitchen_ceiling" {
		t.Errorf("Entities = %+v, want only the kitchen entity", res.Entities)
	}
	if len(res.Areas) != 1 || res.Areas[0] != "kitchen" {
		t.Errorf("Areas = %v, want [kitchen]", res.Areas)
	}
}

func TestResolve_EmptyAreaIsExplicitFailure(t *testing.T) {
	candidates := []homeassistant.EntityInfo{
		ent("light.kitchen_ceiling", "Kitchen Ceiling", "light", "Kitchen"),
	}

	res := Resolve("turn on the garage light", candidates, "")
	if res.Success {
		t.Fatal("expected failure for an area with no entities")
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "garage") {
		t.Errorf("Err = %v, want area-specific failure", res.Err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("Entities = %+v, want none", res.Entities)
	}
}

func TestResolve_NoMatchReturnsBoundedSample(t *testing.T) {
	var candidates []homeassistant.EntityInfo
	for i := 1; i <= 7; i++ {
		candidates = append(candidates, ent(
			fmt.Sprintf("sensor.reading_%d", i),
			fmt.Sprintf("Reading %d", i),
			"sensor", ""))
	}

	res := Resolve("make it cozy", candidates, "")
	if res.Success {
		t.Fatal("expected no-match failure")
	}
	if !errors.Is(res.Err, ErrNoMatch) {
		t.Errorf("Err = %v, want ErrNoMatch", res.Err)
	}
	if len(res.Entities) != maxSampleSize {
		t.Errorf("sample size = %d, want %d", len(res.Entities), maxSampleSize)
	}
	// Sample preserves inventory order.
	if res.Entities[0].EntityID != "sensor.reading_1" {
		t.Errorf("sample[0] = %s, want sensor.reading_1", res.Entities[0].EntityID)
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 on failure", res.Confidence)
	}
}

func TestResolve_DomainFilterCanEmpty(t *testing.T) {
	candidates := []homeassistant.EntityInfo{
		ent("switch.top_outlet", "Top Outlet", "switch", ""),
	}

	res := Resolve("the top light", candidates, "light")
	if res.Success {
		t.Fatal("expected failure when the domain filter empties the set")
	}
	if !errors.Is(res.Err, ErrNoMatch) {
		t.Errorf("Err = %v, want ErrNoMatch", res.Err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("Entities = %+v, want empty sample", res.Entities)
	}
}

func TestResolve_ConfidenceCapped(t *testing.T) {
	candidates := []homeassistant.EntityInfo{
		ent("light.desk_top_led_strip", "Desk LED Strip", "light", ""),
	}

	res := Resolve("the desk top led strip", candidates, "")
	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want capped at 1.0", res.Confidence)
	}
}

func TestResolve_AliasesScore(t *testing.T) {
	e := homeassistant.EntityInfo{
		EntityID:     "light.strip_1",
		FriendlyName: "Accent",
		Domain:       "light",
		Aliases:      []string{"bulb wall front"},
	}

	res := Resolve("the front bulb", []homeassistant.EntityInfo{e}, "")
	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if len(res.Entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(res.Entities))
	}
}

func TestResolve_NoCandidates(t *testing.T) {
	res := Resolve("turn on the light", nil, "")
	if res.Success {
		t.Fatal("expected failure with no candidates")
	}
	if !errors.Is(res.Err, ErrNoMatch) {
		t.Errorf("Err = %v, want ErrNoMatch", res.Err)
	}
}
