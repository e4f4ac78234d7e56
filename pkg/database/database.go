// Package database keeps scan results in a sqlite store. By default the
// store lives in memory and disappears with the process.
package database

import (
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	NO_DATABASE       = ""
	INMEMORY_DATABASE = ":memory:"
)

type Configuration struct {
	fpath  string
	config *gorm.Config
	models []any
}

func NewConfiguration(fpath string) Configuration {
	if fpath == NO_DATABASE {
		fpath = INMEMORY_DATABASE
	}
	return Configuration{
		fpath: fpath,
		config: &gorm.Config{
			SkipDefaultTransaction: true,
			Logger:                 logger.Default.LogMode(logger.Silent),
		},
		models: []any{&Scan{}, &Host{}, &Result{}},
	}
}

func Open(conf Configuration) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(conf.fpath), conf.config)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", conf.fpath)
	}

	// every connection to :memory: is a new database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access database connection")
	}
	if conf.fpath == INMEMORY_DATABASE {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}
	if err := db.AutoMigrate(conf.models...); err != nil {
		return nil, errors.Wrap(err, "failed to migrate models")
	}
	return &Repository{db: db}, nil
}
