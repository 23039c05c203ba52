// Package fingerprint derives deterministic identifiers for cacheable units
// of work. All fingerprints are lower-case hex SHA-256 digests prefixed with
// a schema version so hashing-strategy changes invalidate cleanly.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// SchemaVersion prefixes every cache key. Bump it whenever the byte
// encoding below changes.
const SchemaVersion = "1"

// sep separates fields inside the canonical byte encoding.
const sep = "\x00"

// Fingerprint is a versioned, hex-encoded SHA-256 digest.
type Fingerprint string

// String returns the fingerprint as a plain string.
func (f Fingerprint) String() string { return string(f) }

func digest(parts ...string) Fingerprint {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte(sep))
		}
		h.Write([]byte(p))
	}
	return Fingerprint(SchemaVersion + ":" + hex.EncodeToString(h.Sum(nil)))
}

// File fingerprints a code file: "file:"‖path‖NUL‖language‖NUL‖content.
func File(path, language string, content []byte) Fingerprint {
	return digest("file:"+path, language, string(content))
}

// Screenshot fingerprints an image artifact by path and raw bytes.
func Screenshot(path string, content []byte) Fingerprint {
	return digest("image:"+path, string(content))
}

// Analysis fingerprints an analyzer invocation: the file identity plus the
// scope the extraction ran under.
func Analysis(path, language, scope string, content []byte) Fingerprint {
	return digest("analysis:"+path, language, scope, string(content))
}

// LLM fingerprints a completion request:
// "llm:"‖model‖NUL‖system‖NUL‖prompt‖NUL‖canonical-context‖NUL‖band.
func LLM(model, systemPrompt, userPrompt string, context map[string]string, band string) Fingerprint {
	return digest("llm:"+model, systemPrompt, userPrompt, canonicalContext(context), band)
}

// State fingerprints a captured page state for behavioral trace comparison.
// The inputs are already normalized by the prober.
func State(url, domClass, visibleText string) Fingerprint {
	return digest("state:"+url, domClass, visibleText)
}

// canonicalContext renders a context map deterministically: keys sorted,
// key=value joined by newlines.
func canonicalContext(ctx map[string]string) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ctx[k])
	}
	return b.String()
}
