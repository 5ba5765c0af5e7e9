// SPDX-License-Identifier: Apache-2.0

package sqlrow_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/backend/sqlrow"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

func TestSQLRow(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "sqlrow Suite")
}

func newMockBackend() (*sqlrow.Backend, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	Expect(err).NotTo(HaveOccurred())
	sqlxDB := sqlx.NewDb(db, "mysql")
	return sqlrow.New(sqlxDB), mock, func() { _ = db.Close() }
}

var _ = Describe("Backend", func() {
	It("replaces the single row for a single-row type on publish", func() {
		b, mock, closeDB := newMockBackend()
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM dns_records WHERE name = \? AND type = \?`).
			WithArgs("web1.h1.svc.example", "A").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO dns_records`).
			WithArgs("web1.h1.svc.example", "A", uint32(60), "10.0.0.1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		rec := dnsrecord.NewA("web1.h1.svc.example", 60, []byte{10, 0, 0, 1})
		Expect(b.PublishRecord(context.Background(), rec)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("does not delete sibling rows for a multi-row type like SRV", func() {
		b, mock, closeDB := newMockBackend()
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO dns_records`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		rec := dnsrecord.NewSRV("web1._http._tcp.svc.example", 60, 0, 0, 80, "web1.h1.svc.example")
		Expect(b.PublishRecord(context.Background(), rec)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("cleans up TXT and PTR in the same transaction when no SRV remains", func() {
		b, mock, closeDB := newMockBackend()
		defer closeDB()

		srv := dnsrecord.NewSRV("web1._http._tcp.svc.example", 60, 0, 0, 80, "web1.h1.svc.example")

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM dns_records WHERE name = \? AND type = 'SRV' AND value = \?`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dns_records WHERE name = \? AND type = 'SRV'`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`DELETE FROM dns_records WHERE name = \? AND type = 'TXT'`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM dns_records WHERE name = \? AND type = 'PTR' AND value = \?`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		Expect(b.SuppressSharedRecord(context.Background(), srv)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("classifies a deadlock as a Conflict", func() {
		b, mock, closeDB := newMockBackend()
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM dns_records`).
			WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
		mock.ExpectRollback()

		rec := dnsrecord.NewA("web1.h1.svc.example", 60, []byte{10, 0, 0, 1})
		err := b.PublishRecord(context.Background(), rec)
		Expect(err).To(HaveOccurred())
		Expect(backend.Classify(err)).To(Equal(backend.Conflict))
	})
})
