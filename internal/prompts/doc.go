// Package prompts contains the prompt text HomeIQ injects into model
// context.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, benefit from
// compile-time embedding, and can be validated by tests. User-facing
// configuration lives in config.yaml; this package holds the fixed text
// the engine assembles into system messages (base persona instructions,
// hint blocks, pending-action recaps).
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated string.
package prompts
