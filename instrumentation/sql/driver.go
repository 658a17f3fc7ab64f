// Package sql opens database/sql handles whose statements are recorded for
// the request profiler and traced with OpenTelemetry.
package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/XSAM/otelsql"

	"github.com/fllarpy/reqprof/internal/adapters/apmsql"
)

// Suffix is appended to a driver name to form the name of its instrumented copy.
const Suffix = "-reqprof"

var registerMu sync.Mutex

// Register registers d under name, wrapped with otelsql spans and query recording.
func Register(name string, d driver.Driver, opts ...otelsql.Option) {
	apmsql.Register(name, otelsql.WrapDriver(d, opts...))
}

// Open opens dataSourceName through an instrumented copy of the registered
// driver driverName. The copy is registered on first use.
func Open(driverName, dataSourceName string, opts ...otelsql.Option) (*sql.DB, error) {
	name := driverName + Suffix

	registerMu.Lock()
	if !apmsql.Registered(name) {
		d, err := lookup(driverName)
		if err != nil {
			registerMu.Unlock()
			return nil, err
		}
		Register(name, d, opts...)
	}
	registerMu.Unlock()

	db, err := sql.Open(name, dataSourceName)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// OpenDB is like Open but wraps the driver for this handle only, so opts are
// honored on every call.
func OpenDB(driverName, dataSourceName string, opts ...otelsql.Option) (*sql.DB, error) {
	d, err := lookup(driverName)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(dsnConnector{
		dsn:    dataSourceName,
		driver: apmsql.Wrap(otelsql.WrapDriver(d, opts...)),
	}), nil
}

func lookup(driverName string) (driver.Driver, error) {
	db, err := sql.Open(driverName, "")
	if err != nil {
		return nil, fmt.Errorf("unknown driver %q: %w", driverName, err)
	}
	d := db.Driver()
	_ = db.Close()
	return d, nil
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }

func (c dsnConnector) Driver() driver.Driver { return c.driver }
