// Copyright 2024 The objectbridge Authors
// This file is part of the objectbridge library.
//
// The objectbridge library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The objectbridge library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the objectbridge library. If not, see
// <http://www.gnu.org/licenses/>.

package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger"
	"github.com/pkg/errors"
)

// badgerStore persists entries one-per-key under a badger directory, the
// same transaction-per-call shape as the teacher's own badgerDB. Safe for
// concurrent use.
type badgerStore struct {
	mu sync.Mutex
	db *badger.DB
}

// OpenBadger opens (creating if absent) a Badger-backed Store at dir.
func OpenBadger(dir string) (Store, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) RecordCreated(id, typeName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(Entry{LocalID: id, TypeName: typeName, CreatedAt: at})
}

func (s *badgerStore) RecordClosed(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok, err := s.get(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	closedAt := at
	e.ClosedAt = &closedAt
	return s.put(e)
}

func (s *badgerStore) get(id string) (Entry, bool, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get([]byte(id))
	if err == badger.ErrKeyNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.WithStack(err)
	}
	raw, err := item.Value()
	if err != nil {
		return Entry{}, false, errors.WithStack(err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, errors.WithStack(err)
	}
	return e, true, nil
}

func (s *badgerStore) put(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.WithStack(err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set([]byte(e.LocalID), raw); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(txn.Commit(nil))
}

func (s *badgerStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	var entries []Entry
	iter := txn.NewIterator(badger.DefaultIteratorOptions)
	defer iter.Close()
	for iter.Rewind(); iter.Valid(); iter.Next() {
		raw, err := iter.Item().Value()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *badgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.WithStack(s.db.Close())
}
