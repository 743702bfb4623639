package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	execKeyPrefix        = "saga:"
	execIndexStatePrefix = "saga:index:status:"
)

// BadgerStore persists execution snapshots in Badger. Snapshots are stored
// as JSON at "saga:{id}" with a status index at
// "saga:index:status:{status}:{id}" for filtered listing.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a Badger-backed state store.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerStore opens a dedicated Badger database for saga snapshots.
func OpenBadgerStore(path string) (*BadgerStore, func() error, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open badger store: %w", err)
	}
	store, err := NewBadgerStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

// Put persists one snapshot and keeps its status index current.
func (s *BadgerStore) Put(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return fmt.Errorf("saga execution cannot be nil")
	}
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal saga snapshot: %w", err)
	}

	key := []byte(execDataKey(exec.ID))
	newIndexKey := []byte(execStatusIndexKey(exec.Status.String(), exec.ID))

	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var oldStatus string
		item, err := txn.Get(key)
		if err == nil {
			var previous Execution
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &previous) }); err == nil {
				oldStatus = previous.Status.String()
			}
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(newIndexKey, []byte{}); err != nil {
			return err
		}
		if oldStatus != "" && oldStatus != exec.Status.String() {
			_ = txn.Delete([]byte(execStatusIndexKey(oldStatus, exec.ID)))
		}
		return nil
	})
}

// Get loads one snapshot by saga id.
func (s *BadgerStore) Get(ctx context.Context, sagaID string) (*Execution, error) {
	var exec Execution
	err := s.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get([]byte(execDataKey(sagaID)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrSagaNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &exec) })
	})
	if err != nil {
		return nil, err
	}
	return exec.Clone(), nil
}

// List queries snapshots by status with pagination.
func (s *BadgerStore) List(ctx context.Context, filter ListFilter) ([]*Execution, int, error) {
	execs := make([]*Execution, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		if filter.Status != "" {
			prefix := []byte(execStatusIndexPrefix(filter.Status))
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				key := string(it.Item().Key())
				sagaID := strings.TrimPrefix(key, execStatusIndexPrefix(filter.Status))
				exec, err := s.getInTxn(txn, sagaID)
				if err != nil {
					continue
				}
				execs = append(execs, exec)
			}
			return nil
		}

		prefix := []byte(execKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			key := string(it.Item().Key())
			if strings.HasPrefix(key, execIndexStatePrefix) {
				continue
			}
			var exec Execution
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &exec) }); err != nil {
				continue
			}
			execs = append(execs, &exec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(execs)
	offset, end := pageBounds(total, filter.Offset, filter.Limit)

	paged := make([]*Execution, 0, end-offset)
	for _, exec := range execs[offset:end] {
		paged = append(paged, exec.Clone())
	}
	return paged, total, nil
}

// Delete removes one snapshot and its status index entry.
func (s *BadgerStore) Delete(ctx context.Context, sagaID string) error {
	key := []byte(execDataKey(sagaID))
	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrSagaNotFound
			}
			return err
		}

		var exec Execution
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &exec) }); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		_ = txn.Delete([]byte(execStatusIndexKey(exec.Status.String(), sagaID)))
		return nil
	})
}

func (s *BadgerStore) getInTxn(txn *badger.Txn, sagaID string) (*Execution, error) {
	item, err := txn.Get([]byte(execDataKey(sagaID)))
	if err != nil {
		return nil, err
	}
	var exec Execution
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &exec) }); err != nil {
		return nil, err
	}
	return &exec, nil
}

func execDataKey(sagaID string) string {
	return execKeyPrefix + sagaID
}

func execStatusIndexPrefix(status string) string {
	return execIndexStatePrefix + status + ":"
}

func execStatusIndexKey(status, sagaID string) string {
	return execStatusIndexPrefix(status) + sagaID
}
