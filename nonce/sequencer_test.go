package nonce

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type flakySource struct {
	failures int
	calls    int
	nonce    uint64
}

func (f *flakySource) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, errors.New("connection reset")
	}
	return f.nonce, nil
}

func TestSequencer_Monotonic(t *testing.T) {
	s := NewSequencer(42)
	prev := s.Next()
	require.Equal(t, uint64(42), prev)
	for i := 0; i < 100; i++ {
		n := s.Next()
		require.Greater(t, n, prev)
		require.Equal(t, prev+1, n)
		prev = n
	}
	require.Equal(t, uint64(101), s.Issued())
}

func TestSequencer_Concurrent(t *testing.T) {
	s := NewSequencer(7)

	const workers, perWorker = 16, 250
	results := make([][]uint64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				results[w] = append(results[w], s.Next())
			}
		}(w)
	}
	wg.Wait()

	var all []uint64
	for _, r := range results {
		// each caller observes a strictly increasing sequence
		for i := 1; i < len(r); i++ {
			require.Greater(t, r[i], r[i-1])
		}
		all = append(all, r...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, n := range all {
		require.Equal(t, uint64(7+i), n, "nonces must be unique and gap-free")
	}
}

func TestSeed(t *testing.T) {
	src := &flakySource{failures: 2, nonce: 11}
	s, err := Seed(context.Background(), src, common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.Equal(t, 3, src.calls)
	require.Equal(t, uint64(11), s.Next())
	require.Equal(t, uint64(12), s.Next())
}

func TestSeed_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Seed(ctx, &flakySource{failures: 1000}, common.HexToAddress("0x01"))
	require.ErrorIs(t, err, ErrNotSeeded)
}
