// SPDX-License-Identifier: Apache-2.0

// Package sqlrow implements a DNS backend where every record is one row
// in a dns_records table. Because a relational database gives this agent
// real multi-statement transactions, SuppressSharedRecord collapses the
// whole {read, decide, apply, verify} state machine into a single
// transaction instead of the separate round-trips pkg/backend/route53
// and pkg/backend/azuredns need.
package sqlrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

// Schema is the table this backend reads and writes. version starts at 1
// and is incremented each time PublishRecord re-inserts an existing
// (name, type, value) row; no statement conditions on it, so concurrent
// writers are detected only through the deadlock and lock-wait errors
// classifyErr maps to Conflict.
const Schema = `
CREATE TABLE IF NOT EXISTS dns_records (
	id       BIGINT AUTO_INCREMENT PRIMARY KEY,
	name     VARCHAR(255) NOT NULL,
	type     VARCHAR(8)   NOT NULL,
	ttl      INT UNSIGNED NOT NULL,
	value    VARCHAR(1024) NOT NULL,
	version  BIGINT NOT NULL DEFAULT 1,
	UNIQUE KEY name_type_value (name, type, value)
)`

type row struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Type    string `db:"type"`
	TTL     uint32 `db:"ttl"`
	Value   string `db:"value"`
	Version int64  `db:"version"`
}

// Backend adapts a *sqlx.DB to backend.Backend.
type Backend struct {
	db *sqlx.DB
}

// New wraps an already-opened database handle. Callers are expected to
// have applied Schema (or an equivalent migration) beforehand.
func New(db *sqlx.DB) *Backend {
	return &Backend{db: db}
}

// DNSRecords returns every managed-type row in the table.
func (b *Backend) DNSRecords(ctx context.Context) (dnsrecord.Set, error) {
	var rows []row
	if err := b.db.SelectContext(ctx, &rows, `SELECT id, name, type, ttl, value, version FROM dns_records`); err != nil {
		return nil, classifyErr("list", err)
	}
	out := make(dnsrecord.Set, 0, len(rows))
	for _, r := range rows {
		rec, ok := fromRow(r)
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PublishRecord inserts r's row if it doesn't already exist. A/AAAA/
// CNAME/TXT RRsets are single-row-per-name in this schema (the row is
// simply replaced); SRV and PTR rows accumulate under the unique
// (name, type, value) key so multiple hosts/instances can share a
// name.
func (b *Backend) PublishRecord(ctx context.Context, r dnsrecord.Record) error {
	return withTx(ctx, b.db, func(tx *sqlx.Tx) error {
		if !multiRow(r.Type) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM dns_records WHERE name = ? AND type = ?`, string(r.Name), string(r.Type)); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dns_records (name, type, ttl, value) VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE ttl = VALUES(ttl), version = version + 1`,
			string(r.Name), string(r.Type), r.TTL, valueFor(r))
		return err
	})
}

// SuppressRecord deletes exactly r's row.
func (b *Backend) SuppressRecord(ctx context.Context, r dnsrecord.Record) error {
	return withTx(ctx, b.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM dns_records WHERE name = ? AND type = ? AND value = ?`, string(r.Name), string(r.Type), valueFor(r))
		return err
	})
}

// SuppressSharedRecord runs the entire shared-SRV cleanup state
// machine as one transaction: delete the SRV row, count what remains
// at that name, and only if nothing remains also delete the TXT row
// and the PTR row pointing at it.
func (b *Backend) SuppressSharedRecord(ctx context.Context, srv dnsrecord.Record) error {
	return withTx(ctx, b.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dns_records WHERE name = ? AND type = 'SRV' AND value = ?`, string(srv.Name), valueFor(srv)); err != nil {
			return err
		}
		var remaining int
		if err := tx.GetContext(ctx, &remaining, `SELECT COUNT(*) FROM dns_records WHERE name = ? AND type = 'SRV'`, string(srv.Name)); err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dns_records WHERE name = ? AND type = 'TXT'`, string(srv.Name)); err != nil {
			return err
		}
		parent := srv.Name.Parent()
		_, err := tx.ExecContext(ctx, `DELETE FROM dns_records WHERE name = ? AND type = 'PTR' AND value = ?`, string(parent), string(srv.Name)+".")
		return err
	})
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyErr("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classifyErr("exec", err)
	}
	if err := tx.Commit(); err != nil {
		return classifyErr("commit", err)
	}
	return nil
}

func multiRow(t dnsrecord.Type) bool {
	return t == dnsrecord.TypeSRV || t == dnsrecord.TypePTR
}

// classifyErr maps MySQL driver errors onto backend.FailureKind: a
// deadlock or lock-wait-timeout is a Conflict (another writer touched
// the same rows; retry after a fresh read), connection-level errors
// are Transient, and a unique-key violation or syntax error is Fatal.
func classifyErr(op string, err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1213, 1205: // ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
			return &backend.Error{Kind: backend.Conflict, Op: op, Err: err}
		case 1062, 1064: // ER_DUP_ENTRY, ER_PARSE_ERROR
			return &backend.Error{Kind: backend.Fatal, Op: op, Err: err}
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return &backend.Error{Kind: backend.Transient, Op: op, Err: err}
	}
	return &backend.Error{Kind: backend.Transient, Op: op, Err: err}
}

func valueFor(r dnsrecord.Record) string {
	switch r.Type {
	case dnsrecord.TypeA, dnsrecord.TypeAAAA:
		return r.Data.IP.String()
	case dnsrecord.TypeCNAME, dnsrecord.TypePTR:
		return string(r.Data.Name) + "."
	case dnsrecord.TypeSRV:
		return fmt.Sprintf("%d %d %d %s.", r.Data.SRV.Priority, r.Data.SRV.Weight, r.Data.SRV.Port, r.Data.SRV.Target)
	case dnsrecord.TypeTXT:
		return strings.Join(r.Data.TXT, "\x1f")
	default:
		return r.Data.Raw
	}
}

func fromRow(r row) (dnsrecord.Record, bool) {
	name := dnsrecord.Name(r.Name)
	switch dnsrecord.Type(r.Type) {
	case dnsrecord.TypeA:
		return dnsrecord.NewA(name, r.TTL, net.ParseIP(r.Value)), true
	case dnsrecord.TypeAAAA:
		return dnsrecord.NewAAAA(name, r.TTL, net.ParseIP(r.Value)), true
	case dnsrecord.TypeCNAME:
		return dnsrecord.NewCNAME(name, r.TTL, dnsrecord.Name(strings.TrimSuffix(r.Value, "."))), true
	case dnsrecord.TypePTR:
		return dnsrecord.NewPTR(name, r.TTL, dnsrecord.Name(strings.TrimSuffix(r.Value, "."))), true
	case dnsrecord.TypeSRV:
		fields := strings.Fields(r.Value)
		if len(fields) != 4 {
			return dnsrecord.Record{}, false
		}
		prio, _ := strconv.Atoi(fields[0])
		weight, _ := strconv.Atoi(fields[1])
		port, _ := strconv.Atoi(fields[2])
		return dnsrecord.NewSRV(name, r.TTL, uint16(prio), uint16(weight), uint16(port), dnsrecord.Name(strings.TrimSuffix(fields[3], "."))), true
	case dnsrecord.TypeTXT:
		return dnsrecord.NewTXT(name, r.TTL, strings.Split(r.Value, "\x1f")), true
	default:
		return dnsrecord.Record{}, false
	}
}
