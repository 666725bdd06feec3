package supplychain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"afrochain/core/keylock"
	"afrochain/storage"
)

var registryPrefix = []byte("supply/topic/")

// Registry is the append-only batch -> topic map. Reads are concurrent;
// creation is serialised per batch so concurrent first writers share one
// topic.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]string
	locks  keylock.Locker
	db     storage.Database
}

// NewRegistry loads any persisted mappings from db. A nil db keeps the
// registry in memory only.
func NewRegistry(db storage.Database) (*Registry, error) {
	r := &Registry{topics: make(map[string]string), db: db}
	if db == nil {
		return r, nil
	}
	err := db.Iterate(registryPrefix, func(key, value []byte) error {
		batch := strings.TrimPrefix(string(key), string(registryPrefix))
		r.topics[batch] = string(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load topic registry: %w", err)
	}
	return r, nil
}

// Lookup returns the topic of a batch.
func (r *Registry) Lookup(batchID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topic, ok := r.topics[batchID]
	return topic, ok
}

// Ensure returns the existing topic or calls create exactly once per batch.
// The second return value reports whether the topic was created.
func (r *Registry) Ensure(batchID string, create func() (string, error)) (string, bool, error) {
	if topic, ok := r.Lookup(batchID); ok {
		return topic, false, nil
	}
	unlock := r.locks.Lock(batchID)
	defer unlock()
	if topic, ok := r.Lookup(batchID); ok {
		return topic, false, nil
	}
	topic, err := create()
	if err != nil {
		return "", false, err
	}
	if topic == "" {
		return "", false, errors.New("ledger returned an empty topic reference")
	}
	if r.db != nil {
		if err := r.db.Put(append(append([]byte(nil), registryPrefix...), batchID...), []byte(topic)); err != nil {
			return "", false, fmt.Errorf("persist topic mapping: %w", err)
		}
	}
	r.mu.Lock()
	r.topics[batchID] = topic
	r.mu.Unlock()
	return topic, true, nil
}

// Len reports how many batches have a topic.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}
