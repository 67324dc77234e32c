package shared

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	const workers = 16
	const iterations = 50

	var countA, countB int
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		key := "a"
		counter := &countA
		if i%2 == 1 {
			key = "b"
			counter = &countB
		}
		wg.Add(1)
		go func(key string, counter *int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				km.Lock(key)
				*counter++
				km.Unlock(key)
			}
		}(key, counter)
	}
	wg.Wait()

	require.Equal(t, workers/2*iterations, countA)
	require.Equal(t, workers/2*iterations, countB)
}

func TestKeyedMutexFreesIdleKeys(t *testing.T) {
	km := NewKeyedMutex()
	km.Lock("x")
	km.Unlock("x")

	km.mu.Lock()
	defer km.mu.Unlock()
	require.Empty(t, km.locks)
}
