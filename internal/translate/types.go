package translate

import "context"

// StyleProfile is a cached structured hint used to bias subsequent
// translations for consistency. Lifetime ends on language change or reset.
type StyleProfile struct {
	Tone        string   `json:"tone"`
	Formality   string   `json:"formality"`
	DomainHints string   `json:"domainHints,omitempty"`
	Glossary    []string `json:"glossary,omitempty"`
}

// NeutralProfile is the fallback when style inference returns malformed JSON.
func NeutralProfile() StyleProfile {
	return StyleProfile{Tone: "neutral", Formality: "neutral"}
}

// Translator is the request-response translation provider.
type Translator interface {
	// Translate renders one sentence into targetLang. A nil profile means
	// no style hints are applied.
	Translate(ctx context.Context, sentence, targetLang string, profile *StyleProfile) (string, error)

	// InferStyle derives a style profile from a sample of recent sentences.
	InferStyle(ctx context.Context, sentences []string) (StyleProfile, error)
}
