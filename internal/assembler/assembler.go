// Package assembler orchestrates prompt assembly: it loads the
// conversation, composes the static context block, resolves the
// utterance to entities, fetches the dynamic fragments scoped to those
// entities, and truncates history to the token budget. The only fatal
// failures are an unknown conversation and unavailable token
// accounting; every data-source failure degrades to placeholder
// content and is reported on the result.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wtthornton/HomeIQ-sub000/internal/composer"
	"github.com/wtthornton/HomeIQ-sub000/internal/convstore"
	"github.com/wtthornton/HomeIQ-sub000/internal/events"
	"github.com/wtthornton/HomeIQ-sub000/internal/fragment"
	"github.com/wtthornton/HomeIQ-sub000/internal/intent"
	"github.com/wtthornton/HomeIQ-sub000/internal/inventory"
	"github.com/wtthornton/HomeIQ-sub000/internal/livestate"
	"github.com/wtthornton/HomeIQ-sub000/internal/patterns"
	"github.com/wtthornton/HomeIQ-sub000/internal/prompts"
	"github.com/wtthornton/HomeIQ-sub000/internal/resolver"
	"github.com/wtthornton/HomeIQ-sub000/internal/tokens"
	"github.com/wtthornton/HomeIQ-sub000/internal/truncate"
	"github.com/wtthornton/HomeIQ-sub000/internal/usage"
)

// Request describes one assembly.
type Request struct {
	ConversationID string
	// UserText is the newest user utterance.
	UserText string
	// AlreadyAppended skips persisting UserText when the caller
	// already stored it. Assembly output is identical either way.
	AlreadyAppended bool
	// ForceRefresh bypasses the composed-context refresh window.
	ForceRefresh bool
	// Hints are operator steering notes, never shown to the user.
	Hints []string
	// PendingPreview recaps an action awaiting confirmation.
	PendingPreview string
}

// PromptMessage is one message of the assembled prompt.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AssembleResult is the assembled prompt plus its accounting.
type AssembleResult struct {
	// Messages starts with exactly one system message and ends with
	// the newest user message.
	Messages []PromptMessage
	// OverBudget reports that the system and newest messages alone
	// exceed the available budget.
	OverBudget bool
	// DroppedMessages counts history messages truncation removed.
	DroppedMessages int
	// DegradedFragments lists fragment keys that fell back to
	// placeholders during this assembly.
	DegradedFragments []string
	// InputTokens is the token count of Messages.
	InputTokens int
	// Resolution is the entity resolution outcome, nil when no
	// candidate inventory was available.
	Resolution *resolver.Resolution
}

// Config wires an Assembler. Store, Composer, Cache, Truncator, and
// Accountant are required; the rest degrade gracefully when absent.
type Config struct {
	Store      convstore.Store
	Composer   *composer.Composer
	Cache      *fragment.Cache
	Inventory  inventory.Source
	States     livestate.StateSource
	Window     *livestate.Window
	Recorder   *patterns.Recorder
	Truncator  *truncate.Truncator
	Accountant *tokens.Accountant
	Budget     tokens.Budget
	Bus        *events.Bus
	Audit      *usage.Store
	Model      string
	Logger     *slog.Logger

	LiveStateTTL time.Duration
	PatternsTTL  time.Duration
}

// Assembler builds prompts per request.
type Assembler struct {
	cfg    Config
	logger *slog.Logger

	nowFunc func() time.Time
}

// New creates an assembler from cfg.
func New(cfg Config) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Assemble builds the prompt for req. Unknown conversations and token
// accounting failures are fatal; every other failure degrades.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*AssembleResult, error) {
	start := a.nowFunc()

	if req.ConversationID == "" {
		return nil, errors.New("conversation id is empty")
	}

	conv, err := a.cfg.Store.Get(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", req.ConversationID, err)
	}

	a.cfg.Bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceAssembler,
		Kind:      events.KindAssemblyStart,
		Data: map[string]any{
			"conversation_id": req.ConversationID,
			"utterance_len":   len(req.UserText),
		},
	})

	if !req.AlreadyAppended {
		if _, err := a.cfg.Store.AppendMessage(req.ConversationID, "user", req.UserText); err != nil {
			return nil, fmt.Errorf("append user message: %w", err)
		}
	}

	history, err := a.loadHistory(req)
	if err != nil {
		return nil, err
	}

	static, degraded, err := a.cfg.Composer.Compose(ctx, conv, req.ForceRefresh)
	if err != nil {
		return nil, fmt.Errorf("compose static context: %w", err)
	}

	resolution, dynamic, dynDegraded := a.resolveAndFetch(ctx, req.UserText)
	degraded = append(degraded, dynDegraded...)

	if hints := prompts.HintBlock(req.Hints); hints != "" {
		dynamic = append(dynamic, hints)
	}
	if pending := prompts.PendingActionNote(req.PendingPreview); pending != "" {
		dynamic = append(dynamic, pending)
	}

	blocks := append([]string{static}, dynamic...)
	systemContent := strings.Join(blocks, "\n\n")

	system := tokens.Message{Role: "system", Content: systemContent}
	newest := tokens.Message{Role: "user", Content: req.UserText}

	trunc, err := a.cfg.Truncator.Truncate(system, newest, history, a.cfg.Budget)
	if err != nil {
		return nil, fmt.Errorf("truncate history: %w", err)
	}

	msgs := make([]PromptMessage, 0, len(trunc.Retained)+2)
	msgs = append(msgs, PromptMessage{Role: "system", Content: systemContent})
	for _, m := range trunc.Retained {
		msgs = append(msgs, PromptMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, PromptMessage{Role: "user", Content: req.UserText})

	priced := make([]tokens.Message, len(msgs))
	for i, m := range msgs {
		priced[i] = tokens.Message{Role: m.Role, Content: m.Content}
	}
	inputTokens, err := a.cfg.Accountant.Messages(priced)
	if err != nil {
		return nil, fmt.Errorf("price assembled prompt: %w", err)
	}

	result := &AssembleResult{
		Messages:          msgs,
		OverBudget:        trunc.OverBudget,
		DroppedMessages:   trunc.DroppedCount,
		DegradedFragments: degraded,
		InputTokens:       inputTokens,
		Resolution:        resolution,
	}

	elapsed := a.nowFunc().Sub(start)
	a.publishComplete(req, result, elapsed)
	a.audit(ctx, req, result, elapsed)

	a.logger.Debug("prompt assembled",
		"conversation_id", req.ConversationID,
		"messages", len(result.Messages),
		"input_tokens", result.InputTokens,
		"dropped", result.DroppedMessages,
		"degraded", len(result.DegradedFragments),
		"over_budget", result.OverBudget,
		"elapsed", elapsed)

	return result, nil
}

// loadHistory returns the stored messages minus the newest user
// utterance, which is carried separately as the mandatory tail.
func (a *Assembler) loadHistory(req Request) ([]convstore.Message, error) {
	msgs, err := a.cfg.Store.Messages(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == "user" && msgs[n-1].Content == req.UserText {
		msgs = msgs[:n-1]
	}
	return msgs, nil
}

// resolveAndFetch runs intent extraction and entity resolution, then
// fetches the dynamic fragments scoped to the matches. Everything here
// is fail-soft: no candidates means no resolution, a failed fragment
// means a placeholder.
func (a *Assembler) resolveAndFetch(ctx context.Context, userText string) (*resolver.Resolution, []string, []string) {
	if a.cfg.Inventory == nil {
		return nil, nil, nil
	}

	candCtx, cancel := context.WithTimeout(ctx, fragment.DefaultBuildTimeout)
	defer cancel()

	candidates, err := a.cfg.Inventory.GetEntities(candCtx, "")
	if err != nil {
		a.logger.Warn("candidate inventory unavailable, skipping resolution", "error", err)
		return nil, nil, nil
	}

	in := intent.Extract(userText)
	domainFilter := ""
	if len(in.Domains) > 0 {
		domainFilter = in.Domains[0]
	}

	res := resolver.Resolve(userText, candidates, domainFilter)
	if !res.Success || len(res.Entities) == 0 {
		if res.Err != nil {
			a.logger.Debug("entity resolution failed", "error", res.Err)
		}
		return &res, nil, nil
	}

	ids := make([]string, len(res.Entities))
	for i, e := range res.Entities {
		ids[i] = e.EntityID
	}

	var blocks []string
	var degraded []string
	fetch := func(p fragment.Provider) {
		frag := fragment.Fetch(ctx, a.cfg.Cache, p, a.logger)
		if frag.Degraded {
			degraded = append(degraded, frag.Key)
			a.cfg.Bus.Publish(events.Event{
				Timestamp: a.nowFunc(),
				Source:    events.SourceAssembler,
				Kind:      events.KindFragmentDegraded,
				Data:      map[string]any{"key": frag.Key},
			})
		}
		if frag.Content != "" {
			blocks = append(blocks, frag.Content)
		}
	}

	if a.cfg.States != nil {
		fetch(livestate.NewProvider(a.cfg.States, a.cfg.Window, ids, a.cfg.LiveStateTTL))
	}
	if a.cfg.Recorder != nil {
		fetch(patterns.NewProvider(a.cfg.Recorder, ids, res.Areas, a.cfg.PatternsTTL))
	}

	return &res, blocks, degraded
}

func (a *Assembler) publishComplete(req Request, result *AssembleResult, elapsed time.Duration) {
	a.cfg.Bus.Publish(events.Event{
		Timestamp: a.nowFunc(),
		Source:    events.SourceAssembler,
		Kind:      events.KindAssemblyComplete,
		Data: map[string]any{
			"conversation_id":    req.ConversationID,
			"input_tokens":       result.InputTokens,
			"dropped_messages":   result.DroppedMessages,
			"over_budget":        result.OverBudget,
			"degraded_fragments": strings.Join(result.DegradedFragments, ","),
			"elapsed_ms":         elapsed.Milliseconds(),
		},
	})
}

// audit records the assembly in the ledger. Failures are logged, never
// propagated.
func (a *Assembler) audit(ctx context.Context, req Request, result *AssembleResult, elapsed time.Duration) {
	if a.cfg.Audit == nil {
		return
	}
	rec := usage.Record{
		ConversationID:    req.ConversationID,
		Model:             a.cfg.Model,
		InputTokens:       result.InputTokens,
		RetainedMessages:  len(result.Messages),
		DroppedMessages:   result.DroppedMessages,
		OverBudget:        result.OverBudget,
		ForceRefresh:      req.ForceRefresh,
		DegradedFragments: result.DegradedFragments,
		ElapsedMS:         elapsed.Milliseconds(),
	}
	if err := a.cfg.Audit.Record(ctx, rec); err != nil {
		a.logger.Warn("audit record failed", "conversation_id", req.ConversationID, "error", err)
	}
}
