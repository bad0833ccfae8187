package dedup

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaim(t *testing.T) {
	t.Parallel()

	l := New()
	require.True(t, l.Claim("38912345"))
	require.False(t, l.Claim("38912345"))
	require.True(t, l.Claim("cool-startup-slug"))
	require.False(t, l.Claim(""))
	require.False(t, l.Claim("cool-startup-slug"))
	require.Equal(t, 2, l.Len())
}

func TestClaimIsExclusiveUnderContention(t *testing.T) {
	t.Parallel()

	l := New()
	const workers = 32
	const keys = 200
	var wins atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < keys; k++ {
				if l.Claim(strconv.Itoa(k)) {
					wins.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(keys), wins.Load())
	require.Equal(t, keys, l.Len())
}
