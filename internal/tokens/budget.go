package tokens

// Budget is the process-wide input token budget. MaxInputTokens bounds
// the entire assembled input; ReservedResponseTokens is held back so
// the model has room to answer.
type Budget struct {
	MaxInputTokens         int
	ReservedResponseTokens int
}

// Available returns the tokens usable for the assembled input after
// reserving response space. Never negative.
func (b Budget) Available() int {
	avail := b.MaxInputTokens - b.ReservedResponseTokens
	if avail < 0 {
		return 0
	}
	return avail
}
