package algorithm

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistentHasher_EmptyRing(t *testing.T) {
	ch := NewConsistentHasher(3, nil)

	node, err := ch.Lookup("foo")
	assert.ErrorIs(t, err, ErrEmptyRing)
	assert.Empty(t, node)
	assert.Equal(t, 0, ch.Count())
	assert.Equal(t, 0, ch.NodeCount())
}

func TestConsistentHasher_AddRemoveScenario(t *testing.T) {
	ch := NewConsistentHasher(3, SHA256Hash)
	ch.AddNode("A")
	ch.AddNode("B")

	assert.Equal(t, 6, ch.Count())
	assert.Equal(t, 2, ch.NodeCount())

	first, err := ch.Lookup("foo")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		node, err := ch.Lookup("foo")
		require.NoError(t, err)
		assert.Equal(t, first, node)
	}

	ch.RemoveNode("B")
	assert.Equal(t, 3, ch.Count())
	assert.Equal(t, 1, ch.NodeCount())

	for i := 0; i < 100; i++ {
		node, err := ch.Lookup(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Equal(t, "A", node)
	}
}

func TestConsistentHasher_Totality(t *testing.T) {
	for _, tc := range []struct {
		name string
		hash HashFunc
	}{
		{"sha256", SHA256Hash},
		{"xxhash", XXHash},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ch := NewConsistentHasher(10, tc.hash)
			ch.AddNode("node-1")
			ch.AddNode("node-2")
			ch.AddNode("node-3")

			keys := []string{"", "ping", "foo", "a much longer message body with spaces"}
			for i := 0; i < 500; i++ {
				keys = append(keys, fmt.Sprintf("k%d", i))
			}

			for _, key := range keys {
				node, err := ch.Lookup(key)
				require.NoError(t, err)
				assert.Contains(t, []string{"node-1", "node-2", "node-3"}, node)
			}
		})
	}
}

func TestConsistentHasher_WrapAround(t *testing.T) {
	// Fixed positions make the wrap-around case explicit
	positions := map[string]uint64{
		"low0":  10,
		"high0": 20,
	}
	hash := func(key string) uint64 {
		if p, ok := positions[key]; ok {
			return p
		}
		if key == "beyond" {
			return math.MaxUint64
		}
		return 15
	}

	ch := NewConsistentHasher(1, hash)
	ch.AddNode("low")
	ch.AddNode("high")

	node, err := ch.Lookup("beyond")
	require.NoError(t, err)
	assert.Equal(t, "low", node, "hash past the last position wraps to the smallest")

	node, err = ch.Lookup("middle")
	require.NoError(t, err)
	assert.Equal(t, "high", node)

	node, err = ch.Lookup("low0")
	require.NoError(t, err)
	assert.Equal(t, "low", node, "exact position match resolves to its owner")
}

func TestConsistentHasher_CollisionLastWriteWins(t *testing.T) {
	hash := func(string) uint64 { return 42 }

	ch := NewConsistentHasher(2, hash)
	ch.AddNode("first")
	ch.AddNode("second")

	assert.Equal(t, 1, ch.Count())
	assert.Equal(t, 1, ch.NodeCount())

	node, err := ch.Lookup("anything")
	require.NoError(t, err)
	assert.Equal(t, "second", node)

	// The displaced node no longer owns anything, so removing it is a no-op
	ch.RemoveNode("first")
	node, err = ch.Lookup("anything")
	require.NoError(t, err)
	assert.Equal(t, "second", node)
}

func TestConsistentHasher_AddIsIdempotent(t *testing.T) {
	ch := NewConsistentHasher(5, nil)
	ch.AddNode("A")
	ch.AddNode("A")
	ch.AddNode("A")

	assert.Equal(t, 5, ch.Count())
	assert.Equal(t, []string{"A"}, ch.Nodes())
}

func TestConsistentHasher_RemoveUnknownNode(t *testing.T) {
	ch := NewConsistentHasher(3, nil)
	ch.AddNode("A")
	ch.RemoveNode("missing")

	assert.Equal(t, 3, ch.Count())
	assert.True(t, ch.Contains("A"))
	assert.False(t, ch.Contains("missing"))
}

func TestConsistentHasher_DefaultReplicas(t *testing.T) {
	ch := NewConsistentHasher(0, nil)
	assert.Equal(t, DefaultReplicas, ch.Replicas())

	ch.AddNode("A")
	assert.Equal(t, DefaultReplicas, ch.Count())
}

func TestConsistentHasher_Clear(t *testing.T) {
	ch := NewConsistentHasher(3, nil)
	ch.AddNode("A")
	ch.Clear()

	_, err := ch.Lookup("foo")
	assert.ErrorIs(t, err, ErrEmptyRing)
}

func TestConsistentHasher_Distribution(t *testing.T) {
	ch := NewConsistentHasher(DefaultReplicas, SHA256Hash)
	nodes := []string{"A", "B", "C", "D"}
	for _, n := range nodes {
		ch.AddNode(n)
	}

	counts := make(map[string]int)
	for i := 0; i < 10000; i++ {
		node, err := ch.Lookup(fmt.Sprintf("message-%d", i))
		require.NoError(t, err)
		counts[node]++
	}

	for _, n := range nodes {
		assert.Greater(t, counts[n], 1000, "node %s should receive a share of keys", n)
	}
}

func TestConsistentHasher_ConcurrentAccess(t *testing.T) {
	ch := NewConsistentHasher(20, nil)
	ch.AddNode("stable")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			node := fmt.Sprintf("node-%d", i)
			ch.AddNode(node)
			ch.RemoveNode(node)
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := ch.Lookup(fmt.Sprintf("%d-%d", i, j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"stable"}, ch.Nodes())
}

func TestHashFuncByName(t *testing.T) {
	fn, err := HashFuncByName("")
	require.NoError(t, err)
	assert.Equal(t, SHA256Hash("x"), fn("x"))

	fn, err = HashFuncByName("xxhash")
	require.NoError(t, err)
	assert.Equal(t, XXHash("x"), fn("x"))

	_, err = HashFuncByName("md5")
	assert.Error(t, err)
}
