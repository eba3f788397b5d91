package automaton

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Skip search: Horspool window scan for a few long keywords
// Expectation: same occurrences as the automaton within one buffer, no
// state, no allocation proportional to the input.
// =============================================================================

func skipping(a *Automaton) func([]byte, MatchFunc) (bool, error) {
	return a.SearchSkip
}

func TestSearchSkip_FindsEveryOccurrence(t *testing.T) {
	keywords := []string{"keyword-one", "kw-two-long", "overlapping-keyword"}
	a := build(t, nil, keywords...)
	require.True(t, a.SkipMode())

	buf := []byte("xx keyword-one yy kw-two-longkeyword-one overlapping-keyword-one kw-two-lon")
	assert.ElementsMatch(t, naive(keywords, buf), collect(t, skipping(a), buf))
}

func TestSearchSkip_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	randBytes := func(n int, alphabet string) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return b
	}

	for round := 0; round < 200; round++ {
		seen := map[string]bool{}
		var keywords []string
		for len(keywords) < 1+rng.Intn(4) {
			kw := string(randBytes(6+rng.Intn(4), "ab"))
			if !seen[kw] {
				seen[kw] = true
				keywords = append(keywords, kw)
			}
		}
		a := build(t, nil, keywords...)
		require.True(t, a.SkipMode())
		buf := randBytes(300, "abc")

		assert.ElementsMatch(t, naive(keywords, buf), collect(t, skipping(a), buf),
			"keywords %q buffer %q", keywords, buf)
	}
}

func TestSearchSkip_CaseInsensitive(t *testing.T) {
	a := build(t, []Option{CaseInsensitive()}, "Segmentation fault")
	require.True(t, a.SkipMode())
	found, err := a.SearchSkip([]byte("kernel: SEGMENTATION FAULT at 0x0"), nil)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSearchSkip_OrderedByStart(t *testing.T) {
	a := build(t, []Option{SkipThresholds(4, 3)}, "abc", "abcde", "cde")
	require.True(t, a.SkipMode())

	hits := collect(t, skipping(a), []byte("abcde"))
	assert.Equal(t, []hit{{"abc", 3}, {"abcde", 5}, {"cde", 5}}, hits)
}

func TestSearchSkip_ShortBuffer(t *testing.T) {
	a := build(t, nil, "twenty-byte-keyword!")
	found, err := a.SearchSkip([]byte("twenty"), nil)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = a.SearchSkip([]byte{}, nil)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = a.SearchSkip(nil, nil)
	assert.ErrorIs(t, err, ErrNilBuffer)
}

func TestSearchSkip_FallsBackWithoutSkipMode(t *testing.T) {
	keywords := []string{"he", "she", "his", "hers"}
	a := build(t, nil, keywords...)
	require.False(t, a.SkipMode())

	buf := []byte("ushers")
	assert.ElementsMatch(t, naive(keywords, buf), collect(t, skipping(a), buf))
}

func TestSearchSkip_TenMegabytesNoMatch(t *testing.T) {
	a := build(t, nil, "twenty-byte-keyword!")
	require.True(t, a.SkipMode())

	buf := bytes.Repeat([]byte("0123456789abcdefghijklmnopqrstuvwxyz-!"), (10<<20)/38+1)
	var found bool
	var err error
	allocs := testing.AllocsPerRun(1, func() {
		found, err = a.SearchSkip(buf, nil)
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, allocs)
}

func BenchmarkSearchSkip(b *testing.B) {
	a := New()
	a.Insert([]byte("twenty-byte-keyword!"), 1)
	a.Finalize()
	buf := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog; "), 1<<12)

	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.SearchSkip(buf, nil)
	}
}
