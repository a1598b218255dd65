// Package sqlite is the persistent Lease Store backend, storing lease
// records in a single-file sqlite3 database. Grounded on the teacher's
// pkg/opdb/sqlite backend: same pragma set, same CREATE TABLE IF NOT EXISTS
// plus index idiom, adapted from an opaque namespace/key/value blob store to
// typed lease columns.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/veesix-networks/dhcp6d/internal/coreerr"
	"github.com/veesix-networks/dhcp6d/internal/leasestore"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lease store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindIOFailure, "open lease database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, coreerr.Wrap(coreerr.KindIOFailure, fmt.Sprintf("pragma %s", p), err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS leases (
			address        TEXT PRIMARY KEY,
			duid           TEXT NOT NULL,
			iaid           INTEGER NOT NULL,
			subnet_id      INTEGER NOT NULL,
			preferred_life INTEGER NOT NULL,
			valid_life     INTEGER NOT NULL,
			t1             INTEGER NOT NULL,
			t2             INTEGER NOT NULL,
			last_tx_time   INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, coreerr.Wrap(coreerr.KindIOFailure, "create leases table", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_leases_client ON leases(duid, iaid, subnet_id)`)
	if err != nil {
		db.Close()
		return nil, coreerr.Wrap(coreerr.KindIOFailure, "create client index", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Add(lease leasestore.Lease) error {
	_, err := s.db.Exec(`
		INSERT INTO leases (address, duid, iaid, subnet_id, preferred_life, valid_life, t1, t2, last_tx_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, lease.Address.String(), lease.DUID, lease.IAID, lease.SubnetID,
		lease.PreferredLifetime, lease.ValidLifetime, lease.T1, lease.T2,
		lease.ClientLastTxTime.Unix())
	if err != nil {
		return wrapInsertErr(err)
	}
	return nil
}

// wrapInsertErr classifies an INSERT failure as DuplicateKey only when the
// driver reports an actual primary-key/UNIQUE constraint violation; any
// other failure (disk full, database locked, ...) is an IOFailure so the
// allocation engine's retry logic doesn't mistake it for ordinary
// allocation contention.
func wrapInsertErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return coreerr.Wrap(coreerr.KindDuplicateKey, "address already leased", err)
	}
	return coreerr.Wrap(coreerr.KindIOFailure, "insert lease", err)
}

func (s *Store) GetByAddress(addr netip.Addr) (leasestore.Lease, bool, error) {
	row := s.db.QueryRow(`SELECT address, duid, iaid, subnet_id, preferred_life, valid_life, t1, t2, last_tx_time
		FROM leases WHERE address = ?`, addr.String())
	return scanLease(row)
}

func (s *Store) GetByClient(duid string, iaid uint32, subnetID int) (leasestore.Lease, bool, error) {
	row := s.db.QueryRow(`SELECT address, duid, iaid, subnet_id, preferred_life, valid_life, t1, t2, last_tx_time
		FROM leases WHERE duid = ? AND iaid = ? AND subnet_id = ?`, duid, iaid, subnetID)
	return scanLease(row)
}

func (s *Store) Update(lease leasestore.Lease) error {
	res, err := s.db.Exec(`
		UPDATE leases SET duid = ?, iaid = ?, subnet_id = ?, preferred_life = ?, valid_life = ?, t1 = ?, t2 = ?, last_tx_time = ?
		WHERE address = ?
	`, lease.DUID, lease.IAID, lease.SubnetID, lease.PreferredLifetime, lease.ValidLifetime,
		lease.T1, lease.T2, lease.ClientLastTxTime.Unix(), lease.Address.String())
	if err != nil {
		return coreerr.Wrap(coreerr.KindIOFailure, "update lease", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.Wrap(coreerr.KindNoBinding, "update of unknown address", nil)
	}
	return nil
}

func (s *Store) Delete(addr netip.Addr) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM leases WHERE address = ?`, addr.String())
	if err != nil {
		return false, coreerr.Wrap(coreerr.KindIOFailure, "delete lease", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) List() ([]leasestore.Lease, error) {
	rows, err := s.db.Query(`SELECT address, duid, iaid, subnet_id, preferred_life, valid_life, t1, t2, last_tx_time FROM leases`)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindIOFailure, "list leases", err)
	}
	defer rows.Close()

	var out []leasestore.Lease
	for rows.Next() {
		l, err := scanRow(rows)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.KindIOFailure, "scan lease row", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLease(row rowScanner) (leasestore.Lease, bool, error) {
	l, err := scanRow(row)
	if err == sql.ErrNoRows {
		return leasestore.Lease{}, false, nil
	}
	if err != nil {
		return leasestore.Lease{}, false, coreerr.Wrap(coreerr.KindIOFailure, "scan lease", err)
	}
	return l, true, nil
}

func scanRow(row rowScanner) (leasestore.Lease, error) {
	var addrStr, duid string
	var iaid, subnetID uint32
	var preferredLife, validLife, t1, t2, lastTx int64
	if err := row.Scan(&addrStr, &duid, &iaid, &subnetID, &preferredLife, &validLife, &t1, &t2, &lastTx); err != nil {
		return leasestore.Lease{}, err
	}
	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return leasestore.Lease{}, err
	}
	return leasestore.Lease{
		Address:           addr,
		DUID:              duid,
		IAID:              iaid,
		SubnetID:          int(subnetID),
		PreferredLifetime: uint32(preferredLife),
		ValidLifetime:     uint32(validLife),
		T1:                uint32(t1),
		T2:                uint32(t2),
		ClientLastTxTime:  time.Unix(lastTx, 0).UTC(),
	}, nil
}
