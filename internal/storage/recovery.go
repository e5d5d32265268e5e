package storage

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/pkg/errors"
)

const (
	TableSchema   = "tc_schema"
	TableAutosave = "tc_autosave"
	TableRecovery = "tc_recovery"
	TableVersion  = "tc_version"
	TableDirty    = "tc_dirty"
)

var (
	schemaKey       = rowKey(TableSchema, "version")
	autosaveKey     = rowKey(TableAutosave, "enabled")
	recoveryKey     = rowKey(TableRecovery, "record")
	abortVersionKey = rowKey(TableVersion, "abort")
	saveVersionKey  = rowKey(TableVersion, "save")
	globalDirtyKey  = rowKey(TableDirty, "global")
)

const schemaVersion = 1

func rowKey(table, column string) []byte {
	return []byte(table + "/" + column)
}

// RecoveryStore persists the coordinator's recovery tables.
type RecoveryStore struct {
	db *badger.DB
}

func NewRecoveryStore(db *badger.DB) *RecoveryStore {
	return &RecoveryStore{db: db}
}

// InitSchema writes default rows for every table that has not been created yet.
func (rs *RecoveryStore) InitSchema(ctx context.Context) error {
	if isDeadCtx(ctx) {
		return ctx.Err()
	}

	record, err := (&core.RecoveryRecord{}).ToBytes()
	if err != nil {
		return err
	}

	defaults := []struct {
		key   []byte
		value []byte
	}{
		{schemaKey, uintToBytes(schemaVersion)},
		{autosaveKey, boolToBytes(false)},
		{recoveryKey, record},
		{abortVersionKey, uintToBytes(0)},
		{saveVersionKey, uintToBytes(0)},
		{globalDirtyKey, boolToBytes(false)},
	}

	err = rs.db.Update(func(txn *badger.Txn) error {
		for _, row := range defaults {
			_, err := txn.Get(row.key)
			if err == nil {
				continue // keep existing value
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			err = txn.Set(row.key, row.value)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr(err, "init schema")
}

func (rs *RecoveryStore) GetAutosaveFlag(ctx context.Context) (bool, error) {
	return rs.getBool(ctx, autosaveKey, "get autosave flag")
}

func (rs *RecoveryStore) SetAutosaveFlag(ctx context.Context, enabled bool) error {
	return rs.set(ctx, autosaveKey, boolToBytes(enabled), "set autosave flag")
}

func (rs *RecoveryStore) GetRecoveryRecord(ctx context.Context) (*core.RecoveryRecord, error) {
	if isDeadCtx(ctx) {
		return nil, ctx.Err()
	}

	var record *core.RecoveryRecord

	err := rs.db.View(func(txn *badger.Txn) error {
		b, err := getValue(txn, recoveryKey)
		if err != nil {
			return err
		}

		record, err = core.RecoveryRecordFromBytes(b)
		return err
	})
	if err != nil {
		return nil, wrapErr(err, "get recovery record")
	}

	return record, nil
}

func (rs *RecoveryStore) SetRecoveryRecord(ctx context.Context, record *core.RecoveryRecord) error {
	b, err := record.ToBytes()
	if err != nil {
		return errors.Wrap(err, "encode recovery record")
	}
	return rs.set(ctx, recoveryKey, b, "set recovery record")
}

func (rs *RecoveryStore) GetAbortVersion(ctx context.Context) (uint64, error) {
	return rs.getUint(ctx, abortVersionKey, "get abort version")
}

func (rs *RecoveryStore) SetAbortVersion(ctx context.Context, version uint64) error {
	return rs.set(ctx, abortVersionKey, uintToBytes(version), "set abort version")
}

func (rs *RecoveryStore) GetSaveVersion(ctx context.Context) (uint64, error) {
	return rs.getUint(ctx, saveVersionKey, "get save version")
}

func (rs *RecoveryStore) SetSaveVersion(ctx context.Context, version uint64) error {
	return rs.set(ctx, saveVersionKey, uintToBytes(version), "set save version")
}

func (rs *RecoveryStore) GetGlobalDirty(ctx context.Context) (bool, error) {
	return rs.getBool(ctx, globalDirtyKey, "get global dirty")
}

func (rs *RecoveryStore) SetGlobalDirty(ctx context.Context, dirty bool) error {
	return rs.set(ctx, globalDirtyKey, boolToBytes(dirty), "set global dirty")
}

func (rs *RecoveryStore) RowExists(ctx context.Context, table, column string) (bool, error) {
	if isDeadCtx(ctx) {
		return false, ctx.Err()
	}

	err := rs.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(rowKey(table, column))
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, wrapErr(err, "row exists")
	}

	return true, nil
}

func (rs *RecoveryStore) set(ctx context.Context, key, value []byte, msg string) error {
	if isDeadCtx(ctx) {
		return ctx.Err()
	}

	err := rs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	return wrapErr(err, msg)
}

func (rs *RecoveryStore) getUint(ctx context.Context, key []byte, msg string) (value uint64, err error) {
	if isDeadCtx(ctx) {
		return 0, ctx.Err()
	}

	err = rs.db.View(func(txn *badger.Txn) error {
		value, err = getUint64(txn, key)
		return err
	})
	return value, wrapErr(err, msg)
}

func (rs *RecoveryStore) getBool(ctx context.Context, key []byte, msg string) (value bool, err error) {
	if isDeadCtx(ctx) {
		return false, ctx.Err()
	}

	err = rs.db.View(func(txn *badger.Txn) error {
		value, err = getBool(txn, key)
		return err
	})
	return value, wrapErr(err, msg)
}
