package tracking

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_AddRemoveSnapshot(t *testing.T) {
	r := NewRegistry(0)
	require.Empty(t, r.Snapshot())

	require.NoError(t, r.Add("L2", "s1", "C1"))
	require.NoError(t, r.Add("L1", "s2", "C2"))
	require.NoError(t, r.Add("L1", "s3", "C1"))
	require.NoError(t, r.Add("L1", "s4", "C1"))

	require.Equal(t, []ActiveLoad{
		{LoadID: "L1", SessionCount: 3, CarrierIDs: []string{"C1", "C2"}},
		{LoadID: "L2", SessionCount: 1, CarrierIDs: []string{"C1"}},
	}, r.Snapshot())

	r.Remove("L1", "s3")
	require.Equal(t, 2, r.Count("L1"))

	r.Remove("L2", "s1")
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "L1", snap[0].LoadID)

	r.Remove("L1", "s2")
	r.Remove("L1", "s4")
	require.Empty(t, r.Snapshot())
	require.Equal(t, 0, r.Count("L1"))

	// unknown ids are ignored
	r.Remove("L1", "s4")
	r.Remove("L9", "x")
}

func TestRegistry_MaxPerLoad(t *testing.T) {
	r := NewRegistry(2)
	require.NoError(t, r.Add("L1", "a", "C1"))
	require.NoError(t, r.Add("L1", "b", "C1"))
	require.ErrorIs(t, r.Add("L1", "c", "C1"), ErrLoadFull)
	require.NoError(t, r.Add("L2", "c", "C1"))

	r.Remove("L1", "a")
	require.NoError(t, r.Add("L1", "c", "C1"))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(0)
	const loads, perLoad = 8, 50

	var wg sync.WaitGroup
	for l := 0; l < loads; l++ {
		for s := 0; s < perLoad; s++ {
			wg.Add(1)
			go func(l, s int) {
				defer wg.Done()
				loadID := fmt.Sprintf("L%d", l)
				sessionID := fmt.Sprintf("s%d-%d", l, s)
				require.NoError(t, r.Add(loadID, sessionID, "C1"))
				if s%2 == 0 {
					r.Remove(loadID, sessionID)
				}
			}(l, s)
		}
	}
	wg.Wait()

	snap := r.Snapshot()
	require.Len(t, snap, loads)
	for _, al := range snap {
		require.Equal(t, perLoad/2, al.SessionCount)
	}

	for l := 0; l < loads; l++ {
		for s := 1; s < perLoad; s += 2 {
			wg.Add(1)
			go func(l, s int) {
				defer wg.Done()
				r.Remove(fmt.Sprintf("L%d", l), fmt.Sprintf("s%d-%d", l, s))
			}(l, s)
		}
	}
	wg.Wait()
	require.Empty(t, r.Snapshot())
}
