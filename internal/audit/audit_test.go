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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordCreated("obj-1", "counter", created))
	require.NoError(t, store.RecordCreated("obj-2", "widget", created))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.False(t, e.IsClosed())
	}

	closedAt := created.Add(time.Minute)
	require.NoError(t, store.RecordClosed("obj-1", closedAt))

	entries, err = store.List()
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.LocalID == "obj-1" {
			found = true
			require.True(t, e.IsClosed())
			assert.True(t, e.ClosedAt.Equal(closedAt))
		}
		if e.LocalID == "obj-2" {
			assert.False(t, e.IsClosed())
		}
	}
	assert.True(t, found)

	// Closing an id that was never recorded created is a no-op, not an error.
	require.NoError(t, store.RecordClosed("never-seen", closedAt))
}

func TestLeveldbStore(t *testing.T) {
	store, err := OpenLeveldb(filepath.Join(t.TempDir(), "audit-ldb"))
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadger(filepath.Join(t.TempDir(), "audit-badger"))
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}
