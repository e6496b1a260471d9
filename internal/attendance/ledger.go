// Package attendance enforces one entry/exit cycle per member per day
// over the attendance table.
package attendance

import (
	"errors"
	"strings"
	"time"

	"gymkiosk/internal/model"
	"gymkiosk/internal/store"
)

var (
	// ErrAlreadyMarked means an entry exists for the member today,
	// whether or not it has been closed.
	ErrAlreadyMarked = errors.New("entry already marked today")

	// ErrNoOpenEntry means there is nothing to close for the member today.
	ErrNoOpenEntry = errors.New("no open entry for today")
)

// Ledger records entries and exits against the attendance table.
type Ledger struct {
	store *store.Store
	now   func() time.Time
}

// NewLedger creates a ledger over the store.
func NewLedger(st *store.Store) *Ledger {
	return &Ledger{store: st, now: time.Now}
}

// MarkEntry appends an open record for the member dated today. Any
// existing record for (member, today) rejects the attempt.
func (l *Ledger) MarkEntry(m model.Member) (model.AttendanceRecord, error) {
	records, err := l.store.Attendance()
	if err != nil {
		return model.AttendanceRecord{}, err
	}

	now := l.now()
	today := now.Format(model.DateLayout)
	for _, r := range records {
		if r.MemberID == m.ID && r.Date.Format(model.DateLayout) == today {
			return model.AttendanceRecord{}, ErrAlreadyMarked
		}
	}

	day, _ := time.Parse(model.DateLayout, today)
	rec := model.AttendanceRecord{
		MemberID:  m.ID,
		Name:      m.Name,
		Date:      day,
		EntryTime: now.Format(model.TimeLayout),
		Status:    model.StatusPresent,
	}
	if err := l.store.ReplaceAttendance(append(records, rec)); err != nil {
		return model.AttendanceRecord{}, err
	}
	return rec, nil
}

// MarkExit closes the member's open record for today, setting ExitTime
// and Status while leaving EntryTime untouched. The earliest open record
// wins if more than one exists.
func (l *Ledger) MarkExit(m model.Member) (model.AttendanceRecord, error) {
	records, err := l.store.Attendance()
	if err != nil {
		return model.AttendanceRecord{}, err
	}

	now := l.now()
	today := now.Format(model.DateLayout)
	idx := -1
	for i, r := range records {
		if r.MemberID == m.ID && r.Date.Format(model.DateLayout) == today && r.Open() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.AttendanceRecord{}, ErrNoOpenEntry
	}

	records[idx].ExitTime = now.Format(model.TimeLayout)
	records[idx].Status = model.StatusExited
	if err := l.store.ReplaceAttendance(records); err != nil {
		return model.AttendanceRecord{}, err
	}
	return records[idx], nil
}

// Filter selects attendance rows for the browse views. Zero values match
// everything; Name matches case-insensitive substrings.
type Filter struct {
	Date string
	ID   string
	Name string
}

// Records returns the filtered attendance log in file order.
func (l *Ledger) Records(f Filter) ([]model.AttendanceRecord, error) {
	records, err := l.store.Attendance()
	if err != nil {
		return nil, err
	}
	out := make([]model.AttendanceRecord, 0, len(records))
	for _, r := range records {
		if f.Date != "" && r.Date.Format(model.DateLayout) != f.Date {
			continue
		}
		if f.ID != "" && r.MemberID != f.ID {
			continue
		}
		if f.Name != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.Name)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
