/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

const defaultReplicas = 150

// Ring assigns machines to instances by consistent hashing, so that an
// instance joining or leaving moves few machines.
type Ring struct {
	mu       sync.RWMutex
	nodes    []uint32          // sorted hash values
	nodeMap  map[uint32]string // hash -> instance ID
	replicas int               // virtual nodes per instance
}

// NewRing creates a ring holding instances.
func NewRing(replicas int, instances ...string) *Ring {
	if replicas <= 0 {
		replicas = defaultReplicas
	}
	r := &Ring{nodeMap: make(map[uint32]string), replicas: replicas}
	for _, id := range instances {
		r.Add(id)
	}
	return r
}

// Add places an instance on the ring.
func (r *Ring) Add(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.replicas; i++ {
		hash := hashKey(fmt.Sprintf("%s:%d:vnode", instanceID, i))
		if _, dup := r.nodeMap[hash]; !dup {
			r.nodes = append(r.nodes, hash)
		}
		r.nodeMap[hash] = instanceID
	}
	sort.Slice(r.nodes, func(i, j int) bool { return r.nodes[i] < r.nodes[j] })
}

// Remove takes an instance off the ring.
func (r *Ring) Remove(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := r.nodes[:0]
	for _, hash := range r.nodes {
		if r.nodeMap[hash] == instanceID {
			delete(r.nodeMap, hash)
			continue
		}
		nodes = append(nodes, hash)
	}
	r.nodes = nodes
}

// Owner returns the instance responsible for machine.
func (r *Ring) Owner(machine string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.nodes) == 0 {
		return "", false
	}
	hash := hashKey(machine)
	idx := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i] >= hash })
	if idx == len(r.nodes) {
		idx = 0
	}
	return r.nodeMap[r.nodes[idx]], true
}

// Owns filters machines down to those instanceID is responsible for.
func (r *Ring) Owns(instanceID string, machines []string) []string {
	var out []string
	for _, m := range machines {
		if owner, ok := r.Owner(m); ok && owner == instanceID {
			out = append(out, m)
		}
	}
	return out
}

// hashKey computes the FNV-1a hash of a string.
func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
