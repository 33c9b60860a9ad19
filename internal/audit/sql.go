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
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// sqlRecord is the gorm model backing sqlStore. LocalID is the primary key
// rather than an autoincrement id since a bridge's local ids are already
// the natural key the transport cares about.
type sqlRecord struct {
	LocalID   string `gorm:"primary_key;column:local_id"`
	TypeName  string `gorm:"column:type_name"`
	CreatedAt time.Time
	ClosedAt  *time.Time
}

func (sqlRecord) TableName() string { return "bridge_audit_entries" }

// sqlStore persists entries in a MySQL table via gorm. Safe for concurrent
// use — gorm.DB pools its own connections.
type sqlStore struct {
	db *gorm.DB
}

// OpenMySQL opens a MySQL-backed Store using dsn (a go-sql-driver/mysql
// data source name, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true"),
// creating the backing table if it doesn't already exist. parseTime=true is
// required so CreatedAt/ClosedAt round-trip as time.Time.
func OpenMySQL(dsn string) (Store, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := db.AutoMigrate(&sqlRecord{}).Error; err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) RecordCreated(id, typeName string, at time.Time) error {
	rec := sqlRecord{LocalID: id, TypeName: typeName, CreatedAt: at}
	result := s.db.
		Set("gorm:insert_option", "ON DUPLICATE KEY UPDATE type_name=VALUES(type_name), created_at=VALUES(created_at), closed_at=NULL").
		Create(&rec)
	return errors.WithStack(result.Error)
}

func (s *sqlStore) RecordClosed(id string, at time.Time) error {
	closedAt := at
	result := s.db.Model(&sqlRecord{}).Where("local_id = ?", id).Update("closed_at", &closedAt)
	return errors.WithStack(result.Error)
}

func (s *sqlStore) List() ([]Entry, error) {
	var recs []sqlRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	entries := make([]Entry, len(recs))
	for i, r := range recs {
		entries[i] = Entry{
			LocalID:   r.LocalID,
			TypeName:  r.TypeName,
			CreatedAt: r.CreatedAt,
			ClosedAt:  r.ClosedAt,
		}
	}
	return entries, nil
}

func (s *sqlStore) Close() error {
	return errors.WithStack(s.db.Close())
}
