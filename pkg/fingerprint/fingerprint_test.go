package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDeterministic(t *testing.T) {
	a := File("src/user.py", "python", []byte("def f(): pass"))
	b := File("src/user.py", "python", []byte("def f(): pass"))
	assert.Equal(t, a, b)
}

func TestFileSensitivity(t *testing.T) {
	base := File("src/user.py", "python", []byte("x"))

	assert.NotEqual(t, base, File("src/other.py", "python", []byte("x")))
	assert.NotEqual(t, base, File("src/user.py", "java", []byte("x")))
	assert.NotEqual(t, base, File("src/user.py", "python", []byte("y")))
}

func TestFieldBoundariesAreNotAmbiguous(t *testing.T) {
	// "ab"+"c" must not collide with "a"+"bc" thanks to the NUL separator.
	a := File("ab", "c", nil)
	b := File("a", "bc", nil)
	assert.NotEqual(t, a, b)
}

func TestSchemaVersionPrefix(t *testing.T) {
	f := File("p", "go", []byte("package p"))
	require.True(t, strings.HasPrefix(f.String(), SchemaVersion+":"))

	hexPart := strings.TrimPrefix(f.String(), SchemaVersion+":")
	assert.Len(t, hexPart, 64)
	assert.Equal(t, strings.ToLower(hexPart), hexPart)
}

func TestLLMContextCanonicalization(t *testing.T) {
	a := LLM("m", "sys", "prompt", map[string]string{"b": "2", "a": "1"}, "low")
	b := LLM("m", "sys", "prompt", map[string]string{"a": "1", "b": "2"}, "low")
	assert.Equal(t, a, b, "map iteration order must not affect the fingerprint")

	c := LLM("m", "sys", "prompt", map[string]string{"a": "1"}, "low")
	assert.NotEqual(t, a, c)
}

func TestLLMBandSensitivity(t *testing.T) {
	low := LLM("m", "", "p", nil, "low")
	med := LLM("m", "", "p", nil, "medium")
	assert.NotEqual(t, low, med)
}
