// Package tokens provides the token accountant: deterministic token
// counting for text and message lists against a model's tokenizer
// family. Every budget decision in the engine flows through an
// [Accountant]; if counting is unavailable the engine cannot safely
// bound a request, so accounting failures are fatal rather than
// degraded.
package tokens

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// ErrAccounting indicates token counting is unavailable. Callers must
// treat this as fatal: without counts there is no way to guarantee the
// assembled input stays inside the budget.
var ErrAccounting = errors.New("token accounting unavailable")

// perMessageOverhead approximates the per-message framing cost (role
// markers, separators) that chat completion APIs charge beyond the
// raw content tokens.
const perMessageOverhead = 4

// Counter counts tokens in a piece of text. Implementations must be
// deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// Message is the minimal role/content pair the accountant prices.
type Message struct {
	Role    string
	Content string
}

// Accountant counts tokens for text and message lists. The zero value
// is not usable; construct with [NewAccountant] or
// [NewAccountantWithCounter].
type Accountant struct {
	counter Counter
	logger  *slog.Logger
}

// NewAccountant creates an accountant for the given model name. The
// model is mapped to a tiktoken encoding via [EncodingForModel];
// unknown models fall back to the default encoding rather than
// failing. An encoding that cannot be loaded is a hard error; the
// caller must not proceed without accounting.
func NewAccountant(model string, logger *slog.Logger) (*Accountant, error) {
	if logger == nil {
		logger = slog.Default()
	}

	encName := EncodingForModel(model)
	enc, err := tiktoken.GetEncoding(encName)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s for model %s: %w", encName, model, err)
	}

	logger.Debug("token accountant ready", "model", model, "encoding", encName)
	return &Accountant{
		counter: &tiktokenCounter{enc: enc},
		logger:  logger,
	}, nil
}

// NewAccountantWithCounter creates an accountant around an arbitrary
// [Counter]. Used by tests (fixed-width counters make budget
// arithmetic exact) and by offline tooling via [Estimator].
func NewAccountantWithCounter(c Counter, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{counter: c, logger: logger}
}

// Text returns the token count of s.
func (a *Accountant) Text(s string) (int, error) {
	if a == nil || a.counter == nil {
		return 0, ErrAccounting
	}
	return a.counter.Count(s), nil
}

// MessageTokens returns the token count of a single message including
// the per-message framing overhead.
func (a *Accountant) MessageTokens(role, content string) (int, error) {
	n, err := a.Text(content)
	if err != nil {
		return 0, err
	}
	return n + perMessageOverhead, nil
}

// Messages returns the total token count of a message list including
// per-message framing overhead.
func (a *Accountant) Messages(msgs []Message) (int, error) {
	total := 0
	for _, m := range msgs {
		n, err := a.MessageTokens(m.Role, m.Content)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// EncodingForModel maps a model name to a tiktoken encoding name.
// Newer OpenAI families use o200k_base; everything else (including
// unrecognized models) gets cl100k_base, which approximates most
// modern tokenizers closely enough for budget enforcement.
func EncodingForModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-4o"),
		strings.HasPrefix(m, "gpt-5"),
		strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"):
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-4"),
		strings.HasPrefix(m, "gpt-3.5"):
		return "cl100k_base"
	default:
		return "cl100k_base"
	}
}

// tiktokenCounter counts with a loaded tiktoken encoding. The encoding
// is immutable after construction, so no locking is needed.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Estimator is a heuristic Counter using the ~4 characters per token
// rule of thumb, rounded up so non-empty text never counts as free.
// Useful where loading a real encoding is not worth it (offline
// tooling, tests).
type Estimator struct{}

// Count returns the estimated token count of text.
func (Estimator) Count(text string) int {
	return (len(text) + 3) / 4
}
