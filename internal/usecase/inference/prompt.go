package inference

import "fmt"

// Prompt formats.
const (
	FormatGranite = "granite"
	FormatPlain   = "plain"
)

// FormatPrompt renders system and user text for completion-style models.
// Chat-style providers receive the parts separately and ignore this.
func FormatPrompt(format, system, user string) string {
	switch format {
	case FormatGranite:
		return fmt.Sprintf("<|system|>%s\n<|user|>%s\n<|assistant|>", system, user)
	default:
		if system == "" {
			return user
		}
		return system + "\n\n" + user
	}
}

// ValidFormat reports whether format is known.
func ValidFormat(format string) bool {
	return format == FormatGranite || format == FormatPlain
}
