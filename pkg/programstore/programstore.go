// Package programstore provides persistent storage for deployed program
// bytecode.
//
// Programs are content-addressed: the store key is the blake3 hash of the
// verified bytecode, so a program id commits to exactly one binary and
// deployments are idempotent. Payloads are zstd-compressed on disk.
package programstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
)

var (
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")

	// ErrEmptyBytecode is returned when deploying an empty binary.
	ErrEmptyBytecode = errors.New("empty bytecode")
)

// Bucket names.
var (
	// bucketPrograms stores zstd-compressed bytecode keyed by program id.
	bucketPrograms = []byte("programs")
)

// Config holds program store configuration options.
type Config struct {
	// Path is the file path for the store database.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default program store configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Store is a bbolt-backed deployed-program store. It implements the
// executor's ProgramSource interface.
type Store struct {
	db      *bolt.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu     sync.RWMutex
	closed bool
}

// Open opens a program store.
func Open(cfg Config) (*Store, error) {
	opts := &bolt.Options{
		Timeout:  1 * time.Second,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	}
	db, err := bolt.Open(cfg.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketPrograms)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &Store{db: db, encoder: encoder, decoder: decoder}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// Deploy stores verified bytecode and returns its content-derived identity.
// Deploying the same bytecode twice is a no-op yielding the same id.
func (s *Store) Deploy(bytecode []byte) (types.ProgramID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ProgramID{}, ErrClosed
	}
	if len(bytecode) == 0 {
		return types.ProgramID{}, ErrEmptyBytecode
	}

	id := types.ProgramIDForBytecode(bytecode)
	compressed := s.encoder.EncodeAll(bytecode, nil)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrograms).Put(id[:], compressed)
	})
	if err != nil {
		return types.ProgramID{}, fmt.Errorf("store program: %w", err)
	}
	return id, nil
}

// GetProgram returns the bytecode for a program id. It implements
// executor.ProgramSource.
func (s *Store) GetProgram(id types.ProgramID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPrograms).Get(id[:])
		if v == nil {
			return fmt.Errorf("%w: %s", runtime.ErrProgramNotFound, id)
		}
		compressed = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	bytecode, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress program %s: %w", id, err)
	}

	// The id is the content hash; a mismatch means on-disk corruption.
	if got := types.ProgramIDForBytecode(bytecode); got != id {
		return nil, fmt.Errorf("program %s: stored bytecode hashes to %s", id, got)
	}
	return bytecode, nil
}

// Has reports whether a program is deployed.
func (s *Store) Has(id types.ProgramID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPrograms).Get(id[:]) != nil
		return nil
	})
	return found, err
}

// Remove deletes a deployed program, reporting whether it existed.
func (s *Store) Remove(id types.ProgramID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrograms)
		if b.Get(id[:]) == nil {
			return nil
		}
		existed = true
		return b.Delete(id[:])
	})
	return existed, err
}

// List returns the ids of all deployed programs in sorted order.
func (s *Store) List() ([]types.ProgramID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var ids []types.ProgramID
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrograms).ForEach(func(k, v []byte) error {
			id, err := types.ProgramIDFromBytes(k)
			if err != nil {
				return fmt.Errorf("malformed store key %x: %w", k, err)
			}
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
