package assembler

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wtthornton/HomeIQ-sub000/internal/composer"
	"github.com/wtthornton/HomeIQ-sub000/internal/convstore"
	"github.com/wtthornton/HomeIQ-sub000/internal/events"
	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
	"github.com/wtthornton/HomeIQ-sub000/internal/tokens"
	"github.com/wtthornton/HomeIQ-sub000/internal/truncate"
	"github.com/wtthornton/HomeIQ-sub000/internal/usage"
)

// contentCounter prices content by exact lookup; unknown text costs
// zero, so each message costs its mapped value plus the per-message
// overhead of 4.
type contentCounter map[string]int

func (c contentCounter) Count(text string) int { return c[text] }

const (
	kitchenUtterance = "turn on the kitchen light"
	storyUtterance   = "tell me a story please"
	liveStateKey     = "livestate.light.kitchen"
)

// testCounter prices the fixed utterances at 16 (message cost 20) and
// history contents at 96 (message cost 100). System content is unknown
// and costs the 4-token overhead alone.
func testCounter() contentCounter {
	return contentCounter{
		kitchenUtterance: 16,
		storyUtterance:   16,
		"H":              96,
		"H1":             96,
		"H2":             96,
	}
}

type fakeInventory struct {
	entities []homeassistant.EntityInfo
	err      error
	calls    int
}

func (f *fakeInventory) GetEntities(_ context.Context, domain string) ([]homeassistant.EntityInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if domain == "" {
		return f.entities, nil
	}
	var out []homeassistant.EntityInfo
	for _, e := range f.entities {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeInventory) GetAreas(context.Context) ([]homeassistant.Area, error) {
	return nil, nil
}

func (f *fakeInventory) GetServices(context.Context) ([]homeassistant.ServiceDomain, error) {
	return nil, nil
}

type fakeStates struct {
	mu     sync.Mutex
	states map[string]string
	err    error
	calls  int
}

func (f *fakeStates) GetState(_ context.Context, entityID string) (*homeassistant.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.states[entityID]
	if !ok {
		return nil, errors.New("entity not found")
	}
	return &homeassistant.State{EntityID: entityID, State: st}, nil
}

func (f *fakeStates) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	store  *convstore.MemStore
	cache  *fragment.Cache
	inv    *fakeInventory
	states *fakeStates
	cfg    Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := convstore.NewMemStore()
	cache := fragment.NewCache(logger)
	inv := &fakeInventory{entities: []homeassistant.EntityInfo{
		{EntityID: "light.kitchen", FriendlyName: "Kitchen Light", Domain: "light", AreaID: "kitchen", AreaName: "Kitchen", State: "on"},
		{EntityID: "sensor.hall", FriendlyName: "Hall Sensor", Domain: "sensor", AreaID: "hall", AreaName: "Hall", State: "42"},
	}}
	states := &fakeStates{states: map[string]string{
		"light.kitchen": "on",
		"sensor.hall":   "42",
	}}
	acct := tokens.NewAccountantWithCounter(testCounter(), logger)

	return &testEnv{
		store:  store,
		cache:  cache,
		inv:    inv,
		states: states,
		cfg: Config{
			Store:        store,
			Composer:     composer.New(store, cache, nil, 0, logger),
			Cache:        cache,
			Inventory:    inv,
			States:       states,
			Truncator:    truncate.New(acct, logger),
			Accountant:   acct,
			Budget:       tokens.Budget{MaxInputTokens: 2000},
			Model:        "gpt-4o",
			Logger:       logger,
			LiveStateTTL: time.Hour,
		},
	}
}

func (e *testEnv) assembler() *Assembler { return New(e.cfg) }

func (e *testEnv) conversation(t *testing.T, id string, history ...string) {
	t.Helper()
	if _, err := e.store.GetOrCreate(id); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	role := "user"
	for _, content := range history {
		if _, err := e.store.AppendMessage(id, role, content); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if role == "user" {
			role = "assistant"
		} else {
			role = "user"
		}
	}
}

func TestAssemble_ShapeAndBudget(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1", "H1", "H2")
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if len(res.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(res.Messages))
	}
	if res.Messages[0].Role != "system" {
		t.Errorf("first role = %q, want system", res.Messages[0].Role)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Role != "user" || last.Content != kitchenUtterance {
		t.Errorf("last message = %q %q, want the newest user utterance", last.Role, last.Content)
	}
	if res.Messages[1].Content != "H1" || res.Messages[2].Content != "H2" {
		t.Errorf("history out of order: %q, %q", res.Messages[1].Content, res.Messages[2].Content)
	}

	// system(4) + history(100+100) + newest(20)
	if res.InputTokens != 224 {
		t.Errorf("InputTokens = %d, want 224", res.InputTokens)
	}
	if avail := env.cfg.Budget.Available(); res.InputTokens > avail {
		t.Errorf("InputTokens %d exceeds available %d", res.InputTokens, avail)
	}
	if res.OverBudget {
		t.Error("OverBudget = true for a fitting assembly")
	}
	if res.DroppedMessages != 0 {
		t.Errorf("DroppedMessages = %d, want 0", res.DroppedMessages)
	}

	if res.Resolution == nil || !res.Resolution.Success {
		t.Fatalf("Resolution = %+v, want success", res.Resolution)
	}
	if len(res.Resolution.Entities) != 1 || res.Resolution.Entities[0].EntityID != "light.kitchen" {
		t.Errorf("resolved entities = %+v, want light.kitchen", res.Resolution.Entities)
	}

	system := res.Messages[0].Content
	if !strings.Contains(system, "### Live State") || !strings.Contains(system, "- light.kitchen: on") {
		t.Errorf("system content missing live state block:\n%s", system)
	}
	if len(res.DegradedFragments) != 0 {
		t.Errorf("DegradedFragments = %v, want none", res.DegradedFragments)
	}

	msgs, err := env.store.Messages("conv1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 || msgs[2].Content != kitchenUtterance {
		t.Errorf("stored messages = %d, want the utterance appended as the third", len(msgs))
	}
}

func TestAssemble_UnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	asm := env.assembler()

	_, err := asm.Assemble(context.Background(), Request{ConversationID: "ghost", UserText: "hi"})
	if !errors.Is(err, convstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAssemble_EmptyConversationID(t *testing.T) {
	env := newTestEnv(t)
	asm := env.assembler()

	if _, err := asm.Assemble(context.Background(), Request{UserText: "hi"}); err == nil {
		t.Fatal("expected error for empty conversation id")
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1", "H1", "H2")
	asm := env.assembler()

	first, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	})
	if err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	buildsAfterFirst := env.states.callCount()

	second, err := asm.Assemble(context.Background(), Request{
		ConversationID:  "conv1",
		UserText:        kitchenUtterance,
		AlreadyAppended: true,
	})
	if err != nil {
		t.Fatalf("second Assemble: %v", err)
	}

	if len(first.Messages) != len(second.Messages) {
		t.Fatalf("message counts differ: %d vs %d", len(first.Messages), len(second.Messages))
	}
	for i := range first.Messages {
		if first.Messages[i] != second.Messages[i] {
			t.Errorf("message %d differs:\n%+v\n%+v", i, first.Messages[i], second.Messages[i])
		}
	}
	if first.InputTokens != second.InputTokens {
		t.Errorf("InputTokens differ: %d vs %d", first.InputTokens, second.InputTokens)
	}

	if got := env.states.callCount(); got != buildsAfterFirst {
		t.Errorf("live state rebuilt on cached assembly: %d calls, want %d", got, buildsAfterFirst)
	}

	msgs, err := env.store.Messages("conv1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("stored messages = %d, want 3 (no duplicate append)", len(msgs))
	}
}

func TestAssemble_DegradedProviderYieldsPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1")
	env.states.err = errors.New("connection refused")
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if len(res.DegradedFragments) != 1 || res.DegradedFragments[0] != liveStateKey {
		t.Errorf("DegradedFragments = %v, want [%s]", res.DegradedFragments, liveStateKey)
	}
	if !strings.Contains(res.Messages[0].Content, "(live state unavailable)") {
		t.Error("system content missing the degraded placeholder")
	}
	if res.Messages[0].Role != "system" || res.Messages[len(res.Messages)-1].Content != kitchenUtterance {
		t.Error("degraded assembly lost the prompt shape")
	}
}

func TestAssemble_CandidateFetchFailureSkipsResolution(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1")
	env.inv.err = errors.New("registry unavailable")
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if res.Resolution != nil {
		t.Errorf("Resolution = %+v, want nil without candidates", res.Resolution)
	}
	if strings.Contains(res.Messages[0].Content, "### Live State") {
		t.Error("live state block present without a resolution")
	}
	if env.states.callCount() != 0 {
		t.Errorf("state source called %d times, want 0", env.states.callCount())
	}
	if len(res.DegradedFragments) != 0 {
		t.Errorf("DegradedFragments = %v, want none", res.DegradedFragments)
	}
}

func TestAssemble_NoMatchStillAssembles(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1")
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       storyUtterance,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if res.Resolution == nil {
		t.Fatal("Resolution = nil, want an unsuccessful resolution")
	}
	if res.Resolution.Success {
		t.Errorf("Resolution.Success = true for %q", storyUtterance)
	}
	if env.states.callCount() != 0 {
		t.Errorf("state source called %d times, want 0", env.states.callCount())
	}
	if res.Messages[0].Role != "system" || res.Messages[len(res.Messages)-1].Content != storyUtterance {
		t.Error("unresolved assembly lost the prompt shape")
	}
}

func TestAssemble_OverBudgetPair(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1", "H1", "H2")
	env.cfg.Budget = tokens.Budget{MaxInputTokens: 20}
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if !res.OverBudget {
		t.Error("OverBudget = false, want true")
	}
	if len(res.Messages) != 2 {
		t.Fatalf("messages = %d, want only system and newest", len(res.Messages))
	}
	if res.Messages[0].Role != "system" || res.Messages[1].Content != kitchenUtterance {
		t.Error("over-budget assembly lost the mandatory pair")
	}
	if res.DroppedMessages != 2 {
		t.Errorf("DroppedMessages = %d, want 2", res.DroppedMessages)
	}
}

func TestAssemble_TruncatesLongHistory(t *testing.T) {
	env := newTestEnv(t)
	history := make([]string, 25)
	for i := range history {
		history[i] = "H"
	}
	env.conversation(t, "conv1", history...)
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	// Anchor plus the recent window of 10: 11 history messages retained.
	if len(res.Messages) != 13 {
		t.Errorf("messages = %d, want 13", len(res.Messages))
	}
	if res.DroppedMessages != 14 {
		t.Errorf("DroppedMessages = %d, want 14", res.DroppedMessages)
	}
	if res.OverBudget {
		t.Error("OverBudget = true, want false")
	}
	if avail := env.cfg.Budget.Available(); res.InputTokens > avail {
		t.Errorf("InputTokens %d exceeds available %d", res.InputTokens, avail)
	}
}

func TestAssemble_FragmentTTLRecompute(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1")
	asm := env.assembler()
	req := Request{ConversationID: "conv1", UserText: kitchenUtterance}

	if _, err := asm.Assemble(context.Background(), req); err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	if got := env.states.callCount(); got != 1 {
		t.Fatalf("calls after first = %d, want 1", got)
	}

	req.AlreadyAppended = true
	if _, err := asm.Assemble(context.Background(), req); err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if got := env.states.callCount(); got != 1 {
		t.Errorf("calls after second = %d, want 1 (fragment still fresh)", got)
	}

	// Age the cached entry past its TTL.
	env.cache.Set(fragment.Fragment{
		Key:         liveStateKey,
		Content:     "### Live State\n- light.kitchen: stale",
		GeneratedAt: time.Now().Add(-time.Hour),
		TTL:         time.Minute,
	})

	if _, err := asm.Assemble(context.Background(), req); err != nil {
		t.Fatalf("third Assemble: %v", err)
	}
	if got := env.states.callCount(); got != 2 {
		t.Errorf("calls after expiry = %d, want 2", got)
	}
}

func TestAssemble_HintsAndPendingPreview(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1")
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       storyUtterance,
		Hints:          []string{"the user prefers short answers"},
		PendingPreview: "light.turn_on on light.kitchen",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	system := res.Messages[0].Content
	if !strings.Contains(system, "## Operator Hints") || !strings.Contains(system, "short answers") {
		t.Error("system content missing the hint block")
	}
	if !strings.Contains(system, "## Pending Action") || !strings.Contains(system, "light.turn_on on light.kitchen") {
		t.Error("system content missing the pending action note")
	}
}

func TestAssemble_PublishesLifecycleEvents(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1")
	bus := events.New()
	env.cfg.Bus = bus
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if got := len(ch); got != 2 {
		t.Fatalf("events published = %d, want 2", got)
	}
	start := <-ch
	complete := <-ch

	if start.Kind != events.KindAssemblyStart || start.Source != events.SourceAssembler {
		t.Errorf("first event = %s/%s, want assembler/assembly_start", start.Source, start.Kind)
	}
	if start.Data["conversation_id"] != "conv1" {
		t.Errorf("start conversation_id = %v", start.Data["conversation_id"])
	}
	if complete.Kind != events.KindAssemblyComplete {
		t.Errorf("second event kind = %s, want assembly_complete", complete.Kind)
	}
	if complete.Data["input_tokens"] != res.InputTokens {
		t.Errorf("complete input_tokens = %v, want %d", complete.Data["input_tokens"], res.InputTokens)
	}
}

func TestAssemble_PublishesDegradedEvent(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "conv1")
	env.states.err = errors.New("connection refused")
	bus := events.New()
	env.cfg.Bus = bus
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)
	asm := env.assembler()

	if _, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv1",
		UserText:       kitchenUtterance,
	}); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	var degraded bool
	for len(ch) > 0 {
		e := <-ch
		if e.Kind == events.KindFragmentDegraded && e.Data["key"] == liveStateKey {
			degraded = true
		}
	}
	if !degraded {
		t.Error("no fragment_degraded event for the failed provider")
	}
}

func TestAssemble_RecordsAudit(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	audit, err := usage.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	env := newTestEnv(t)
	env.conversation(t, "conv-audit")
	env.cfg.Audit = audit
	asm := env.assembler()

	res, err := asm.Assemble(context.Background(), Request{
		ConversationID: "conv-audit",
		UserText:       kitchenUtterance,
		ForceRefresh:   true,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	recs, err := audit.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ConversationID != "conv-audit" {
		t.Errorf("ConversationID = %q", rec.ConversationID)
	}
	if rec.InputTokens != res.InputTokens {
		t.Errorf("InputTokens = %d, want %d", rec.InputTokens, res.InputTokens)
	}
	if rec.RetainedMessages != len(res.Messages) {
		t.Errorf("RetainedMessages = %d, want %d", rec.RetainedMessages, len(res.Messages))
	}
	if rec.Model != "gpt-4o" {
		t.Errorf("Model = %q", rec.Model)
	}
	if !rec.ForceRefresh {
		t.Error("ForceRefresh not recorded")
	}
}
