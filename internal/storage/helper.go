package storage

import (
	"context"
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/pkg/errors"
)

func isDeadCtx(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func uintToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func boolToBytes(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, core.ErrNotFound
		}

		return nil, err
	}

	return item.ValueCopy(nil)
}

func getUint64(txn *badger.Txn, key []byte) (uint64, error) {
	b, err := getValue(txn, key)
	if err != nil {
		return 0, err
	}
	return bytesToUint(b), nil
}

func getBool(txn *badger.Txn, key []byte) (bool, error) {
	b, err := getValue(txn, key)
	if err != nil {
		return false, err
	}
	return len(b) == 1 && b[0] == 1, nil
}

// wrapErr turns badger's closed-db error into core.ErrStoreClosed so callers
// can classify it without importing badger.
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return errors.Wrap(core.ErrStoreClosed, msg)
	}
	return errors.Wrap(err, msg)
}

// Classify maps a store error onto the persistence tri-state.
func Classify(err error) core.DBResult {
	switch {
	case err == nil:
		return core.DBSuccess
	case errors.Is(err, core.ErrStoreClosed), errors.Is(err, badger.ErrDBClosed):
		return core.DBFatal
	default:
		return core.DBFailure
	}
}
