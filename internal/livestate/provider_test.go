package livestate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
)

type fakeStates struct {
	states map[string]string
	err    error
}

func (f *fakeStates) GetState(ctx context.Context, entityID string) (*homeassistant.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	state, ok := f.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return &homeassistant.State{EntityID: entityID, State: state}, nil
}

func TestProvider_Snapshot(t *testing.T) {
	src := &fakeStates{states: map[string]string{
		"light.kitchen": "on",
		"sensor.temp":   "21.5",
	}}

	p := NewProvider(src, nil, []string{"sensor.temp", "light.kitchen"}, 0)

	if p.Key() != "livestate.light.kitchen+sensor.temp" {
		t.Errorf("Key() = %q, want sorted scope key", p.Key())
	}

	res := p.Build(context.Background())
	if res.Fragment.Degraded {
		t.Fatalf("unexpected degraded result: %v", res.Err)
	}
	content := res.Fragment.Content

	if !strings.HasPrefix(content, "### Live State\n") {
		t.Errorf("missing heading:\n%s", content)
	}
	if !strings.Contains(content, "- light.kitchen: on") {
		t.Errorf("kitchen state missing:\n%s", content)
	}
	if !strings.Contains(content, "- sensor.temp: 21.5") {
		t.Errorf("sensor state missing:\n%s", content)
	}
	// Sorted scope renders the light before the sensor.
	if strings.Index(content, "light.kitchen") > strings.Index(content, "sensor.temp") {
		t.Error("snapshot lines not in sorted entity order")
	}
}

func TestProvider_PartialFailure(t *testing.T) {
	src := &fakeStates{states: map[string]string{"light.kitchen": "on"}}

	p := NewProvider(src, nil, []string{"light.kitchen", "light.gone"}, 0)
	res := p.Build(context.Background())

	if res.Fragment.Degraded {
		t.Fatal("partial failure should not degrade the whole fragment")
	}
	if !strings.Contains(res.Fragment.Content, "- light.gone: (unavailable)") {
		t.Errorf("failed entity not marked unavailable:\n%s", res.Fragment.Content)
	}
	if !strings.Contains(res.Fragment.Content, "- light.kitchen: on") {
		t.Errorf("healthy entity missing:\n%s", res.Fragment.Content)
	}
}

func TestProvider_AllFailedDegrades(t *testing.T) {
	src := &fakeStates{err: errors.New("connection refused")}

	p := NewProvider(src, nil, []string{"light.kitchen"}, 0)
	res := p.Build(context.Background())

	if !res.Fragment.Degraded {
		t.Fatal("expected degraded fragment when every fetch fails")
	}
	if res.Fragment.Content != "### Live State\n(live state unavailable)" {
		t.Errorf("placeholder = %q", res.Fragment.Content)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "connection refused") {
		t.Errorf("cause not preserved: %v", res.Err)
	}
}

func TestProvider_EmptyScope(t *testing.T) {
	p := NewProvider(&fakeStates{}, nil, nil, 0)
	res := p.Build(context.Background())

	if res.Fragment.Degraded {
		t.Error("empty scope should not degrade")
	}
	if res.Fragment.Content != "" {
		t.Errorf("content = %q, want empty", res.Fragment.Content)
	}
}

func TestProvider_IncludesWindowChanges(t *testing.T) {
	src := &fakeStates{states: map[string]string{"light.kitchen": "on"}}

	w := NewWindow(10, time.Hour)
	w.Record("light.kitchen", "off", "on")
	w.Record("sensor.unrelated", "1", "2")

	p := NewProvider(src, w, []string{"light.kitchen"}, 0)
	res := p.Build(context.Background())
	content := res.Fragment.Content

	if !strings.Contains(content, "Recent changes:") {
		t.Fatalf("changes block missing:\n%s", content)
	}
	if !strings.Contains(content, "light.kitchen: off → on") {
		t.Errorf("scoped transition missing:\n%s", content)
	}
	if strings.Contains(content, "sensor.unrelated") {
		t.Error("out-of-scope transition leaked into fragment")
	}
}

func TestProvider_TTL(t *testing.T) {
	src := &fakeStates{states: map[string]string{"light.kitchen": "on"}}

	if got := NewProvider(src, nil, []string{"light.kitchen"}, 0).Build(context.Background()).Fragment.TTL; got != DefaultTTL {
		t.Errorf("default ttl = %v, want %v", got, DefaultTTL)
	}
	if got := NewProvider(src, nil, []string{"light.kitchen"}, 10*time.Second).Build(context.Background()).Fragment.TTL; got != 10*time.Second {
		t.Errorf("custom ttl = %v, want 10s", got)
	}
}
