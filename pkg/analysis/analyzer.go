// Package analysis runs the static extraction stage: it drives the code
// and visual analyzer adapters over an input bundle and merges their
// outputs into one Representation per side.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// CodeAnalyzer extracts an abstract representation from one code file.
type CodeAnalyzer interface {
	Analyze(ctx context.Context, file models.Artifact, scope models.Scope) (*models.Representation, error)
}

// VisualAnalyzer extracts UI elements from one screenshot.
type VisualAnalyzer interface {
	AnalyzeImage(ctx context.Context, image models.Artifact, scope models.Scope) (*models.Representation, error)
}

// Registry maps languages to code analyzers. A catch-all entry under "*"
// serves languages without a dedicated analyzer.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]CodeAnalyzer
}

// NewRegistry creates an empty analyzer registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]CodeAnalyzer)}
}

// Register installs an analyzer for a language (lower-cased). Use "*" for
// the fallback.
func (r *Registry) Register(language string, a CodeAnalyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[strings.ToLower(language)] = a
}

// ForLanguage resolves the analyzer for a language, falling back to "*".
func (r *Registry) ForLanguage(language string) (CodeAnalyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.analyzers[strings.ToLower(language)]; ok {
		return a, nil
	}
	if a, ok := r.analyzers["*"]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no analyzer registered for language %q", language)
}
