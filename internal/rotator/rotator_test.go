package rotator

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

func pool(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{Credential: fmt.Sprintf("key-%d", i), Model: "gemini-2.0-flash"}
	}
	return out
}

func TestNew_EmptyPool(t *testing.T) {
	r, err := New(nil)

	assert.Nil(t, r)
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNext_RoundRobinCompleteness(t *testing.T) {
	for n := 1; n <= 7; n++ {
		t.Run(fmt.Sprintf("pool_%d", n), func(t *testing.T) {
			r, err := New(pool(n))
			require.NoError(t, err)

			seen := make(map[Candidate]int)
			first := r.Next()
			seen[first]++
			for i := 1; i < n; i++ {
				seen[r.Next()]++
			}

			assert.Len(t, seen, n)
			for c, count := range seen {
				assert.Equal(t, 1, count, "candidate %v", c)
			}
			assert.Equal(t, first, r.Next(), "call n+1 repeats the first")
		})
	}
}

func TestNext_Concurrent(t *testing.T) {
	const n, rounds = 5, 40
	r, err := New(pool(n))
	require.NoError(t, err)

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < n*rounds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := r.Next()
			mu.Lock()
			counts[c.Credential]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, c := range pool(n) {
		assert.Equal(t, rounds, counts[c.Credential])
	}
}

func TestWithModelChoices_DoesNotMoveCredentialCursor(t *testing.T) {
	models := []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"}
	r, err := New(pool(3), WithModelChoices(models, rand.New(rand.NewSource(7))))
	require.NoError(t, err)

	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			c := r.Next()
			assert.Equal(t, fmt.Sprintf("key-%d", i), c.Credential)
			assert.Contains(t, models, c.Model)
		}
	}
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig([]string{"a", "b"}, []string{"m1", "m2"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{"a", "m1"}, {"a", "m2"}, {"b", "m1"}, {"b", "m2"},
	}, r.Pool())

	r, err = FromConfig([]string{"a", "b"}, []string{"m1", "m2"}, true, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	_, err = FromConfig(nil, []string{"m1"}, false, nil)
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****wxyz", Mask("AIzaSyabcdwxyz"))
	assert.Equal(t, "****", Mask("abc"))
}
