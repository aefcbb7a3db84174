package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/wtthornton/HomeIQ-sub000/internal/assembler"
	"github.com/wtthornton/HomeIQ-sub000/internal/tokens"
)

// runAssemble handles the "homeiq assemble" subcommand: one full
// assembly for a single utterance, printed as text or JSON. The
// utterance is stored in the conversation, so repeated runs against a
// persistent store build up real history.
func runAssemble(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	conversationID := "default"
	var force bool
	var hints []string
	var words []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-conv" && i+1 < len(args):
			conversationID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-conv="):
			conversationID = strings.TrimPrefix(args[i], "-conv=")
		case args[i] == "-force":
			force = true
		case args[i] == "-hint" && i+1 < len(args):
			hints = append(hints, args[i+1])
			i++
		case strings.HasPrefix(args[i], "-hint="):
			hints = append(hints, strings.TrimPrefix(args[i], "-hint="))
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown assemble flag: %s", args[i])
		default:
			words = append(words, args[i])
		}
	}
	if len(words) == 0 {
		return fmt.Errorf("usage: homeiq assemble [-conv id] [-force] [-hint note] <utterance>")
	}
	utterance := strings.Join(words, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, logLevel(cfg))
	logger.Info("config loaded", "path", cfgPath, "model", cfg.Model)

	eng, err := buildEngine(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if _, err := eng.store.GetOrCreate(conversationID); err != nil {
		return fmt.Errorf("open conversation %s: %w", conversationID, err)
	}

	res, err := eng.asm.Assemble(ctx, assembler.Request{
		ConversationID: conversationID,
		UserText:       utterance,
		ForceRefresh:   force,
		Hints:          hints,
	})
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return writeAssembleJSON(stdout, eng, res)
	}
	return writeAssembleText(stdout, eng, res)
}

// assembleOutput is the JSON shape of an assembled prompt.
type assembleOutput struct {
	Messages          []assembler.PromptMessage `json:"messages"`
	InputTokens       int                       `json:"input_tokens"`
	DroppedMessages   int                       `json:"dropped_messages"`
	OverBudget        bool                      `json:"over_budget"`
	DegradedFragments []string                  `json:"degraded_fragments,omitempty"`
	Budget            budgetOutput              `json:"budget"`
}

type budgetOutput struct {
	MaxInputTokens         int `json:"max_input_tokens"`
	ReservedResponseTokens int `json:"reserved_response_tokens"`
	Available              int `json:"available"`
}

func writeAssembleJSON(w io.Writer, eng *engine, res *assembler.AssembleResult) error {
	out := assembleOutput{
		Messages:          res.Messages,
		InputTokens:       res.InputTokens,
		DroppedMessages:   res.DroppedMessages,
		OverBudget:        res.OverBudget,
		DegradedFragments: res.DegradedFragments,
		Budget: budgetOutput{
			MaxInputTokens:         eng.budget.MaxInputTokens,
			ReservedResponseTokens: eng.budget.ReservedResponseTokens,
			Available:              eng.budget.Available(),
		},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeAssembleText(w io.Writer, eng *engine, res *assembler.AssembleResult) error {
	for _, m := range res.Messages {
		fmt.Fprintf(w, "--- %s ---\n%s\n\n", m.Role, m.Content)
	}
	fmt.Fprintln(w, tokens.FormatUsage(tokens.UsageInfo{
		Model:             eng.cfg.Model,
		InputTokens:       res.InputTokens,
		Budget:            eng.budget,
		MessageCount:      len(res.Messages),
		DroppedMessages:   res.DroppedMessages,
		DegradedFragments: len(res.DegradedFragments),
		OverBudget:        res.OverBudget,
	}))
	return nil
}
