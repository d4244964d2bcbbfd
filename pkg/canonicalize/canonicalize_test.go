package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCS(map[string]any{
		"zulu":  1,
		"alpha": "a",
		"mike":  true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","mike":true,"zulu":1}`, string(out))
}

func TestJCSStableAcrossKeyOrder(t *testing.T) {
	a, err := JCS(map[string]any{"amount": "10000000", "rule_id": "r1"})
	require.NoError(t, err)
	b, err := JCS(map[string]any{"rule_id": "r1", "amount": "10000000"})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestJCSNested(t *testing.T) {
	out, err := JCS(map[string]any{
		"outer": map[string]any{"b": 2, "a": 1},
		"list":  []any{3, 2, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[3,2,1],"outer":{"a":1,"b":2}}`, string(out))
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]any{"url": "https://horizon.stellar.org/tx?a=1&b=2"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "&b=2", "ampersand stays literal")
}

func TestCanonicalHashStable(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"y": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCanonicalHashDiffers(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"x": 1})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashBytesKnownVector(t *testing.T) {
	// SHA-256 of the empty input.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))
}
