// Package store persists the three flat-file tables (members, attendance,
// deleted members) as CSV with fixed header rows. Every write rewrites the
// whole table; a process-wide mutex serializes access since gin handles
// requests concurrently even though the product is single-user.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gymkiosk/internal/model"
)

const (
	membersFile    = "members.csv"
	attendanceFile = "attendance.csv"
	deletedFile    = "deleted_members.csv"
)

// Store is the CSV-backed table store rooted at a data directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open creates the data directory and any missing tables with their
// default headers.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{dir: dir}
	if err := s.ensureTables(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) ensureTables() error {
	tables := []struct {
		name   string
		header []string
	}{
		{membersFile, model.MemberHeader},
		{attendanceFile, model.AttendanceHeader},
		{deletedFile, model.DeletedHeader},
	}
	for _, t := range tables {
		path := filepath.Join(s.dir, t.name)
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", t.name, err)
		}
		// Missing or empty: recreate with the header row.
		if err := writeTable(path, t.header, nil); err != nil {
			return fmt.Errorf("init %s: %w", t.name, err)
		}
	}
	return nil
}

// Members loads the active member table in file order.
func (s *Store) Members() ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMembers()
}

func (s *Store) loadMembers() ([]model.Member, error) {
	rows, err := readTable(filepath.Join(s.dir, membersFile), model.MemberHeader)
	if err != nil {
		return nil, err
	}
	members := make([]model.Member, 0, len(rows))
	for i, rec := range rows {
		m, err := model.ParseMember(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", membersFile, i+2, err)
		}
		members = append(members, m)
	}
	return members, nil
}

// ReplaceMembers rewrites the member table.
func (s *Store) ReplaceMembers(members []model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMembers(members)
}

func (s *Store) writeMembers(members []model.Member) error {
	rows := make([][]string, len(members))
	for i, m := range members {
		rows[i] = m.Record()
	}
	return writeTable(filepath.Join(s.dir, membersFile), model.MemberHeader, rows)
}

// AppendMember adds one member row.
func (s *Store) AppendMember(m model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, err := s.loadMembers()
	if err != nil {
		return err
	}
	return s.writeMembers(append(members, m))
}

// Attendance loads the attendance table in file order.
func (s *Store) Attendance() ([]model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAttendance()
}

func (s *Store) loadAttendance() ([]model.AttendanceRecord, error) {
	rows, err := readTable(filepath.Join(s.dir, attendanceFile), model.AttendanceHeader)
	if err != nil {
		return nil, err
	}
	records := make([]model.AttendanceRecord, 0, len(rows))
	for i, rec := range rows {
		r, err := model.ParseAttendanceRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", attendanceFile, i+2, err)
		}
		records = append(records, r)
	}
	return records, nil
}

// ReplaceAttendance rewrites the attendance table.
func (s *Store) ReplaceAttendance(records []model.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.Record()
	}
	return writeTable(filepath.Join(s.dir, attendanceFile), model.AttendanceHeader, rows)
}

// Deleted loads the deletion archive in file order.
func (s *Store) Deleted() ([]model.DeletedMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := readTable(filepath.Join(s.dir, deletedFile), model.DeletedHeader)
	if err != nil {
		return nil, err
	}
	deleted := make([]model.DeletedMember, 0, len(rows))
	for i, rec := range rows {
		d, err := model.ParseDeletedMember(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", deletedFile, i+2, err)
		}
		deleted = append(deleted, d)
	}
	return deleted, nil
}

// AppendDeleted appends one row to the deletion archive.
func (s *Store) AppendDeleted(d model.DeletedMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := readTable(filepath.Join(s.dir, deletedFile), model.DeletedHeader)
	if err != nil {
		return err
	}
	rows = append(rows, d.Record())
	return writeTable(filepath.Join(s.dir, deletedFile), model.DeletedHeader, rows)
}

// NextMemberID returns max(numeric IDs)+1 as a string, "1" when no member
// has a numeric ID. Non-numeric IDs are ignored.
func (s *Store) NextMemberID() (string, error) {
	members, err := s.Members()
	if err != nil {
		return "", err
	}
	max := 0
	seen := false
	for _, m := range members {
		n, err := strconv.Atoi(m.ID)
		if err != nil {
			continue
		}
		if !seen || n > max {
			max = n
			seen = true
		}
	}
	if !seen {
		return "1", nil
	}
	return strconv.Itoa(max + 1), nil
}

// Reset discards all three tables and recreates them with headers only.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{membersFile, attendanceFile, deletedFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return s.ensureTables()
}

func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := checkHeader(rows[0], header); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows[1:], nil
}

func checkHeader(got, want []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("header has %d columns, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("header column %d is %q, want %q", i+1, got[i], want[i])
		}
	}
	return nil
}

// writeTable rewrites the whole file. Writes go through a temp file and
// rename so a crash mid-write cannot leave a half-written table.
func writeTable(path string, header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
