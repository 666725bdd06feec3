package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	coreerrors "afrochain/core/errors"
	"afrochain/storage"
)

// Store persists escrow contracts. Get returns a NotFound error for unknown
// ids.
type Store interface {
	Put(ctx context.Context, c *Contract) error
	Get(ctx context.Context, id string) (*Contract, error)
}

var kvPrefix = []byte("escrow/contract/")

// KVStore keeps contracts as JSON documents in a key-value database.
type KVStore struct {
	db storage.Database
}

func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func kvKey(id string) []byte {
	return append(append([]byte(nil), kvPrefix...), id...)
}

func (s *KVStore) Put(_ context.Context, c *Contract) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("escrow store: contract id required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Put(kvKey(c.ID), raw)
}

func (s *KVStore) Get(_ context.Context, id string) (*Contract, error) {
	raw, err := s.db.Get(kvKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, coreerrors.NotFound("escrow %s not found", id)
	}
	if err != nil {
		return nil, coreerrors.Internal("load escrow", err)
	}
	var c Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, coreerrors.Internal("decode escrow", err)
	}
	return &c, nil
}
