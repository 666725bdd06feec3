package provenance

import (
	"encoding/json"
	"errors"
	"fmt"

	"afrochain/storage"
)

// ErrCertificateExists is returned by Create when the batch already has a
// certificate.
var ErrCertificateExists = errors.New("provenance: certificate already exists")

var certificatePrefix = []byte("cert/")

// Store persists certificates. Certificates are never updated.
type Store interface {
	Create(cert *Certificate) error
	Get(batchID string) (*Certificate, error)
}

// KVStore keeps certificates as JSON in a storage.Database. Callers must
// serialise Create per batch.
type KVStore struct {
	db storage.Database
}

func NewKVStore(db storage.Database) *KVStore {
	if db == nil {
		db = storage.NewMemDB()
	}
	return &KVStore{db: db}
}

func certificateKey(batchID string) []byte {
	return append(append([]byte(nil), certificatePrefix...), batchID...)
}

func (s *KVStore) Create(cert *Certificate) error {
	if cert == nil || cert.BatchID == "" {
		return fmt.Errorf("provenance: certificate batch id required")
	}
	exists, err := s.db.Has(certificateKey(cert.BatchID))
	if err != nil {
		return err
	}
	if exists {
		return ErrCertificateExists
	}
	return s.put(cert)
}

func (s *KVStore) put(cert *Certificate) error {
	raw, err := json.Marshal(cert)
	if err != nil {
		return err
	}
	return s.db.Put(certificateKey(cert.BatchID), raw)
}

// Get returns storage.ErrNotFound for unknown batches.
func (s *KVStore) Get(batchID string) (*Certificate, error) {
	raw, err := s.db.Get(certificateKey(batchID))
	if err != nil {
		return nil, err
	}
	var cert Certificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return nil, fmt.Errorf("decode certificate %s: %w", batchID, err)
	}
	return &cert, nil
}
