package apmsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"time"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]driver.Driver)
)

// Register wraps the provided driver with query recording and registers it in
// database/sql under the given name. Typical usage:
//
//	apmsql.Register("sqlite3-reqprof", &sqlite3.SQLiteDriver{})
//	db, _ := sql.Open("sqlite3-reqprof", dsn)
//
// Panics if the driver is nil or the name is already taken.
func Register(name string, d driver.Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if d == nil {
		panic("apmsql: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("apmsql: Register called twice for driver " + name)
	}

	drivers[name] = d
	sql.Register(name, Wrap(d))
}

// Registered reports whether name was registered through Register.
func Registered(name string) bool {
	driversMu.RLock()
	defer driversMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// Wrap returns a driver that records every statement executed with a context
// carrying a QueryLog.
func Wrap(d driver.Driver) driver.Driver {
	return &apmDriver{realDriver: d}
}

type apmDriver struct{ realDriver driver.Driver }

func (d *apmDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.realDriver.Open(name)
	if err != nil {
		return nil, err
	}
	return &apmConn{realConn: conn}, nil
}

type apmConn struct{ realConn driver.Conn }

func (c *apmConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.realConn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &apmStmt{realStmt: stmt, query: query}, nil
}

func (c *apmConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	pc, ok := c.realConn.(driver.ConnPrepareContext)
	if !ok {
		return c.Prepare(query)
	}
	stmt, err := pc.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &apmStmt{realStmt: stmt, query: query}, nil
}

func (c *apmConn) Close() error { return c.realConn.Close() }

func (c *apmConn) Begin() (driver.Tx, error) { return c.realConn.Begin() }

func (c *apmConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.realConn.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) || opts.ReadOnly {
		return nil, errors.New("apmsql: driver does not support transaction options")
	}
	return c.realConn.Begin()
}

func (c *apmConn) Ping(ctx context.Context) error {
	if p, ok := c.realConn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *apmConn) ResetSession(ctx context.Context) error {
	if r, ok := c.realConn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

// Context-aware exec/query. driver.ErrSkip makes database/sql fall back to a
// prepared statement, which records the query instead.
func (c *apmConn) QueryContext(ctx context.Context, q string, a []driver.NamedValue) (driver.Rows, error) {
	qx, ok := c.realConn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := qx.QueryContext(ctx, q, a)
	if !errors.Is(err, driver.ErrSkip) {
		recordQuery(ctx, q, time.Since(start), err)
	}
	return rows, err
}

func (c *apmConn) ExecContext(ctx context.Context, q string, a []driver.NamedValue) (driver.Result, error) {
	ex, ok := c.realConn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := ex.ExecContext(ctx, q, a)
	if !errors.Is(err, driver.ErrSkip) {
		recordQuery(ctx, q, time.Since(start), err)
	}
	return res, err
}

type apmStmt struct {
	realStmt driver.Stmt
	query    string
}

func (s *apmStmt) Close() error  { return s.realStmt.Close() }
func (s *apmStmt) NumInput() int { return s.realStmt.NumInput() }

func (s *apmStmt) Exec(args []driver.Value) (driver.Result, error) { return s.realStmt.Exec(args) }

func (s *apmStmt) Query(args []driver.Value) (driver.Rows, error) { return s.realStmt.Query(args) }

func (s *apmStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if ex, ok := s.realStmt.(driver.StmtExecContext); ok {
		res, err = ex.ExecContext(ctx, args)
	} else {
		res, err = s.realStmt.Exec(namedValueToValue(args))
	}
	recordQuery(ctx, s.query, time.Since(start), err)
	return res, err
}

func (s *apmStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if qx, ok := s.realStmt.(driver.StmtQueryContext); ok {
		rows, err = qx.QueryContext(ctx, args)
	} else {
		rows, err = s.realStmt.Query(namedValueToValue(args))
	}
	recordQuery(ctx, s.query, time.Since(start), err)
	return rows, err
}

func namedValueToValue(named []driver.NamedValue) []driver.Value {
	vs := make([]driver.Value, len(named))
	for i, nv := range named {
		vs[i] = nv.Value
	}
	return vs
}
