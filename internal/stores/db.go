package stores

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options tunes the connection pool behind a *gorm.DB.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	SlowThreshold   time.Duration
	Logger          *slog.Logger
}

func (o Options) gormConfig() *gorm.Config {
	level := logger.Silent
	if o.Logger != nil {
		level = logger.Warn
	}
	threshold := o.SlowThreshold
	if threshold <= 0 {
		threshold = 200 * time.Millisecond
	}
	var lg logger.Interface = logger.Default.LogMode(logger.Silent)
	if o.Logger != nil {
		lg = logger.New(slogWriter{o.Logger}, logger.Config{
			SlowThreshold:             threshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		})
	}
	return &gorm.Config{
		Logger:         lg,
		TranslateError: true,
	}
}

// slogWriter routes GORM's printf-style logger into slog.
type slogWriter struct{ l *slog.Logger }

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.l.Warn(fmt.Sprintf(format, args...), "component", "gorm")
}

// OpenPostgres connects to Postgres through the pgx-based GORM dialector.
func OpenPostgres(dsn string, opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), opts.gormConfig())
	if err != nil {
		return nil, err
	}
	if err := applyPool(db, opts); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a SQLite database. Used for local runs and tests with
// "file:name?mode=memory&cache=shared".
func OpenSQLite(dsn string, opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), opts.gormConfig())
	if err != nil {
		return nil, err
	}
	if err := applyPool(db, opts); err != nil {
		return nil, err
	}
	return db, nil
}

func applyPool(db *gorm.DB, opts Options) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
	return nil
}
