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
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// leveldbStore persists entries one-per-key in a LevelDB directory, each
// value a JSON-encoded Entry. Safe for concurrent use.
type leveldbStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenLeveldb opens (creating if absent) a LevelDB-backed Store at dir.
func OpenLeveldb(dir string) (Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &leveldbStore{db: db}, nil
}

func (s *leveldbStore) RecordCreated(id, typeName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(Entry{LocalID: id, TypeName: typeName, CreatedAt: at})
}

func (s *leveldbStore) RecordClosed(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get([]byte(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return errors.WithStack(err)
	}
	closedAt := at
	e.ClosedAt = &closedAt
	return s.put(e)
}

func (s *leveldbStore) put(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(s.db.Put([]byte(e.LocalID), raw, nil))
}

func (s *leveldbStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, e)
	}
	return entries, errors.WithStack(iter.Error())
}

func (s *leveldbStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.WithStack(s.db.Close())
}
