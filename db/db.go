package db

import "github.com/syndtr/goleveldb/leveldb"

// DB defines the interface for database operations. Get returns nil for a
// missing key; Write applies a batch atomically.
type DB interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	Write(batch *leveldb.Batch) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
