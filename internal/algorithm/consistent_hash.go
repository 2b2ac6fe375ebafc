package algorithm

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultReplicas is the number of virtual replicas used when none is configured
const DefaultReplicas = 100

// ErrEmptyRing is returned by Lookup when no node has been added
var ErrEmptyRing = errors.New("hash ring is empty")

// HashFunc maps a string onto the ring's 64-bit position space
type HashFunc func(key string) uint64

// SHA256Hash interprets the first 8 bytes of the SHA-256 digest as a big endian uint64
func SHA256Hash(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

// XXHash hashes with xxhash64
func XXHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// HashFuncByName resolves a configured hash function name
func HashFuncByName(name string) (HashFunc, error) {
	switch name {
	case "", "sha256":
		return SHA256Hash, nil
	case "xxhash":
		return XXHash, nil
	default:
		return nil, fmt.Errorf("unknown hash function %q", name)
	}
}

// ConsistentHasher implements consistent hashing with virtual replicas
type ConsistentHasher struct {
	replicas int
	hash     HashFunc

	mu        sync.RWMutex
	ring      []uint64            // Sorted positions
	owners    map[uint64]string   // Position -> node
	positions map[string][]uint64 // Node -> positions it was assigned
}

// NewConsistentHasher creates a ring where every node occupies replicas positions
func NewConsistentHasher(replicas int, hash HashFunc) *ConsistentHasher {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	if hash == nil {
		hash = SHA256Hash
	}
	return &ConsistentHasher{
		replicas:  replicas,
		hash:      hash,
		ring:      make([]uint64, 0),
		owners:    make(map[uint64]string),
		positions: make(map[string][]uint64),
	}
}

// AddNode places the node's virtual replicas on the ring.
// A position that collides with an existing one is overwritten.
func (ch *ConsistentHasher) AddNode(node string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	hashes := make([]uint64, 0, ch.replicas)
	added := false

	for i := 0; i < ch.replicas; i++ {
		h := ch.hash(node + strconv.Itoa(i))
		prev, exists := ch.owners[h]
		if !exists {
			ch.ring = append(ch.ring, h)
			added = true
		} else if prev != node {
			ch.dropPosition(prev, h)
		}
		ch.owners[h] = node
		hashes = append(hashes, h)
	}

	ch.positions[node] = hashes
	if added {
		sort.Slice(ch.ring, func(i, j int) bool { return ch.ring[i] < ch.ring[j] })
	}
}

// RemoveNode deletes the node's virtual replicas. Unknown nodes are ignored.
func (ch *ConsistentHasher) RemoveNode(node string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	hashes, exists := ch.positions[node]
	if !exists {
		return
	}

	removed := make(map[uint64]bool, len(hashes))
	for _, h := range hashes {
		if ch.owners[h] == node {
			delete(ch.owners, h)
			removed[h] = true
		}
	}

	newRing := make([]uint64, 0, len(ch.ring)-len(removed))
	for _, h := range ch.ring {
		if !removed[h] {
			newRing = append(newRing, h)
		}
	}
	ch.ring = newRing

	delete(ch.positions, node)
}

// Lookup returns the owner of the first position at or after hash(key),
// wrapping around to the smallest position.
func (ch *ConsistentHasher) Lookup(key string) (string, error) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if len(ch.ring) == 0 {
		return "", ErrEmptyRing
	}

	keyHash := ch.hash(key)
	idx := sort.Search(len(ch.ring), func(i int) bool {
		return ch.ring[i] >= keyHash
	})

	// Wrap around if necessary
	if idx >= len(ch.ring) {
		idx = 0
	}

	return ch.owners[ch.ring[idx]], nil
}

// Hash computes the ring position of a key
func (ch *ConsistentHasher) Hash(key string) uint64 {
	return ch.hash(key)
}

// Count returns the number of ring entries, not the number of nodes
func (ch *ConsistentHasher) Count() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.ring)
}

// NodeCount returns the number of distinct nodes on the ring
func (ch *ConsistentHasher) NodeCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.positions)
}

// Nodes returns the distinct nodes on the ring in sorted order
func (ch *ConsistentHasher) Nodes() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	nodes := make([]string, 0, len(ch.positions))
	for node := range ch.positions {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// Contains reports whether node is on the ring
func (ch *ConsistentHasher) Contains(node string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	_, ok := ch.positions[node]
	return ok
}

// Replicas returns the number of positions assigned per node
func (ch *ConsistentHasher) Replicas() int {
	return ch.replicas
}

// Clear removes all nodes
func (ch *ConsistentHasher) Clear() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.ring = make([]uint64, 0)
	ch.owners = make(map[uint64]string)
	ch.positions = make(map[string][]uint64)
}

// dropPosition forgets that node owned h after another node took it over.
// Caller must hold the write lock.
func (ch *ConsistentHasher) dropPosition(node string, h uint64) {
	hashes := ch.positions[node]
	kept := make([]uint64, 0, len(hashes))
	for _, candidate := range hashes {
		if candidate != h {
			kept = append(kept, candidate)
		}
	}
	ch.positions[node] = kept
	if len(ch.positions[node]) == 0 {
		delete(ch.positions, node)
	}
}
