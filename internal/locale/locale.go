// Package locale holds the per-language conversation profiles. The runtime
// speaks exactly one language per deployment, chosen in config.
package locale

import "strings"

// Profile bundles everything downstream services need to run a conversation
// in one language.
type Profile struct {
	Language     string
	Code         string // locale code passed to STT/TTS backends
	Voice        string
	SystemPrompt string
}

var profiles = map[string]Profile{
	"english": {
		Language: "english",
		Code:     "en-us",
		Voice:    "en-US",
		SystemPrompt: "You are a helpful assistant in a voice conversation. " +
			"Keep your responses concise and suitable for text-to-speech.",
	},
	"spanish": {
		Language: "spanish",
		Code:     "es-es",
		Voice:    "es-ES",
		SystemPrompt: "Eres un asistente útil en una conversación por voz. " +
			"Mantén tus respuestas concisas y adecuadas para texto-a-voz. " +
			"Responde siempre en español. Eres amable y servicial.",
	},
}

// Lookup returns the profile for a configured language name. Unknown
// languages fall back to english; ok reports whether the name matched.
func Lookup(language string) (Profile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return profiles["english"], false
	}
	return p, true
}

// Supported lists the language names Lookup accepts.
func Supported() []string {
	return []string{"english", "spanish"}
}
