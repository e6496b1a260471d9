package model

import (
	"fmt"
	"strconv"
	"time"
)

// Wire formats for the CSV tables. Dates are calendar days, times are
// local wall-clock.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Gender is the member's registered gender.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// ParseGender validates a stored gender value.
func ParseGender(s string) (Gender, error) {
	switch g := Gender(s); g {
	case GenderMale, GenderFemale, GenderOther:
		return g, nil
	}
	return "", fmt.Errorf("invalid gender %q", s)
}

// Membership is the billing plan a member is enrolled in.
type Membership string

const (
	MembershipMonthly   Membership = "Monthly"
	MembershipQuarterly Membership = "Quarterly"
	MembershipYearly    Membership = "Yearly"
)

// ParseMembership validates a stored membership value.
func ParseMembership(s string) (Membership, error) {
	switch m := Membership(s); m {
	case MembershipMonthly, MembershipQuarterly, MembershipYearly:
		return m, nil
	}
	return "", fmt.Errorf("invalid membership %q", s)
}

// Member is an active gym member. ID is immutable and unique across
// active members; deleted IDs may be reused.
type Member struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Gender     Gender     `json:"gender"`
	Email      string     `json:"email"`
	Mobile     string     `json:"mobile"`
	Membership Membership `json:"membership"`
	Fee        float64    `json:"fee"`
	JoinDate   time.Time  `json:"join_date"`
	ImagePath  string     `json:"image_path,omitempty"`
}

// MemberHeader is the members.csv header row.
var MemberHeader = []string{"ID", "Name", "Gender", "Email", "Mobile", "Membership", "Fee", "JoinDate", "ImagePath"}

// Record renders the member as a CSV row.
func (m Member) Record() []string {
	return []string{
		m.ID,
		m.Name,
		string(m.Gender),
		m.Email,
		m.Mobile,
		string(m.Membership),
		FormatFee(m.Fee),
		m.JoinDate.Format(DateLayout),
		m.ImagePath,
	}
}

// ParseMember validates a CSV row loaded from members.csv.
func ParseMember(rec []string) (Member, error) {
	if len(rec) != len(MemberHeader) {
		return Member{}, fmt.Errorf("member row has %d fields, want %d", len(rec), len(MemberHeader))
	}
	gender, err := ParseGender(rec[2])
	if err != nil {
		return Member{}, err
	}
	membership, err := ParseMembership(rec[5])
	if err != nil {
		return Member{}, err
	}
	fee, err := strconv.ParseFloat(rec[6], 64)
	if err != nil {
		return Member{}, fmt.Errorf("invalid fee %q: %w", rec[6], err)
	}
	if fee < 0 {
		return Member{}, fmt.Errorf("negative fee %q", rec[6])
	}
	joined, err := time.Parse(DateLayout, rec[7])
	if err != nil {
		return Member{}, fmt.Errorf("invalid join date %q: %w", rec[7], err)
	}
	return Member{
		ID:         rec[0],
		Name:       rec[1],
		Gender:     gender,
		Email:      rec[3],
		Mobile:     rec[4],
		Membership: membership,
		Fee:        fee,
		JoinDate:   joined,
		ImagePath:  rec[8],
	}, nil
}

// DeletedMember is an archived member row. Write-once per deletion.
type DeletedMember struct {
	Member
	DeletedAt time.Time `json:"deleted_at"`
}

// DeletedHeader is the deleted_members.csv header row.
var DeletedHeader = append(append([]string{}, MemberHeader...), "DeletedAt")

// Record renders the archived member as a CSV row.
func (d DeletedMember) Record() []string {
	return append(d.Member.Record(), d.DeletedAt.Format(time.DateTime))
}

// ParseDeletedMember validates a CSV row loaded from deleted_members.csv.
func ParseDeletedMember(rec []string) (DeletedMember, error) {
	if len(rec) != len(DeletedHeader) {
		return DeletedMember{}, fmt.Errorf("deleted member row has %d fields, want %d", len(rec), len(DeletedHeader))
	}
	m, err := ParseMember(rec[:len(MemberHeader)])
	if err != nil {
		return DeletedMember{}, err
	}
	deletedAt, err := time.Parse(time.DateTime, rec[len(MemberHeader)])
	if err != nil {
		return DeletedMember{}, fmt.Errorf("invalid DeletedAt %q: %w", rec[len(MemberHeader)], err)
	}
	return DeletedMember{Member: m, DeletedAt: deletedAt}, nil
}

// Attendance statuses.
const (
	StatusPresent = "Present"
	StatusExited  = "Exited"
)

// AttendanceRecord is one entry/exit cycle for a member on a day.
// The member reference is weak: rows are cascade-deleted with the member.
type AttendanceRecord struct {
	MemberID  string    `json:"id"`
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	EntryTime string    `json:"entry_time"`
	ExitTime  string    `json:"exit_time,omitempty"`
	Status    string    `json:"status"`
}

// AttendanceHeader is the attendance.csv header row.
var AttendanceHeader = []string{"ID", "Name", "Date", "EntryTime", "ExitTime", "Status"}

// Open reports whether the record still awaits an exit.
func (a AttendanceRecord) Open() bool { return a.ExitTime == "" }

// Record renders the attendance row as CSV.
func (a AttendanceRecord) Record() []string {
	return []string{a.MemberID, a.Name, a.Date.Format(DateLayout), a.EntryTime, a.ExitTime, a.Status}
}

// ParseAttendanceRecord validates a CSV row loaded from attendance.csv.
func ParseAttendanceRecord(rec []string) (AttendanceRecord, error) {
	if len(rec) != len(AttendanceHeader) {
		return AttendanceRecord{}, fmt.Errorf("attendance row has %d fields, want %d", len(rec), len(AttendanceHeader))
	}
	day, err := time.Parse(DateLayout, rec[2])
	if err != nil {
		return AttendanceRecord{}, fmt.Errorf("invalid date %q: %w", rec[2], err)
	}
	for _, ts := range []string{rec[3], rec[4]} {
		if ts == "" {
			continue
		}
		if _, err := time.Parse(TimeLayout, ts); err != nil {
			return AttendanceRecord{}, fmt.Errorf("invalid time %q: %w", ts, err)
		}
	}
	switch rec[5] {
	case StatusPresent, StatusExited:
	default:
		return AttendanceRecord{}, fmt.Errorf("invalid status %q", rec[5])
	}
	return AttendanceRecord{
		MemberID:  rec[0],
		Name:      rec[1],
		Date:      day,
		EntryTime: rec[3],
		ExitTime:  rec[4],
		Status:    rec[5],
	}, nil
}

// FormatFee keeps whole-number fees free of a trailing ".00" so rewritten
// files stay byte-comparable with what staff type in.
func FormatFee(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
