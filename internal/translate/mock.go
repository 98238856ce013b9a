package translate

import (
	"context"
	"fmt"
	"strings"
)

// MockTranslator is a local fallback used when no API key is configured.
// Output is deterministic so the pipeline stays testable end to end.
type MockTranslator struct{}

func NewMockTranslator() *MockTranslator { return &MockTranslator{} }

func (MockTranslator) Translate(_ context.Context, sentence, targetLang string, _ *StyleProfile) (string, error) {
	return fmt.Sprintf("[%s] %s", strings.ToLower(strings.TrimSpace(targetLang)), sentence), nil
}

func (MockTranslator) InferStyle(_ context.Context, _ []string) (StyleProfile, error) {
	return NeutralProfile(), nil
}
