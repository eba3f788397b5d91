package labels

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_RegisterIsStable(t *testing.T) {
	tbl := NewTable()

	a, err := tbl.Register("ALERT")
	require.NoError(t, err)
	b, err := tbl.Register("MALWARE")
	require.NoError(t, err)
	again, err := tbl.Register("ALERT")
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, a, again)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "MALWARE", tbl.Name(b))
}

func TestTable_Unknown(t *testing.T) {
	tbl := NewTable()
	_, ok := tbl.Lookup("nope")
	assert.False(t, ok)
	assert.Equal(t, "", tbl.Name(0))
	assert.Equal(t, "", tbl.Name(5))

	_, err := tbl.Register("")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestTable_NamesSorted(t *testing.T) {
	tbl := NewTable()
	for _, n := range []string{"zeta", "alpha", "mu"} {
		_, err := tbl.Register(n)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, tbl.Names())
}

func TestTable_ConcurrentRegister(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tbl.Register(fmt.Sprintf("L%d", i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, tbl.Len())
	for i := 0; i < 100; i++ {
		v, ok := tbl.Lookup(fmt.Sprintf("L%d", i))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("L%d", i), tbl.Name(v))
	}
}
