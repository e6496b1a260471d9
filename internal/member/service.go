// Package member implements the staff-facing member lifecycle: register,
// update, delete with archive, browse, and the full reset.
package member

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"gymkiosk/internal/config"
	"gymkiosk/internal/model"
	"gymkiosk/internal/photos"
	"gymkiosk/internal/store"
)

var (
	// ErrDuplicateID rejects registration with an ID already in use.
	ErrDuplicateID = errors.New("member id already exists")

	// ErrNotFound means no active member has the given ID.
	ErrNotFound = errors.New("member not found")
)

// Notifier sends the lifecycle emails. Failures never block the data
// change that triggered them.
type Notifier interface {
	MemberRegistered(model.Member) error
	MemberUpdated(model.Member) error
	MemberDeleted(model.Member) error
}

// Service coordinates the store, photo directory and notifier.
type Service struct {
	store    *store.Store
	photos   *photos.Dir
	notifier Notifier
	settings *config.SettingsFile
	now      func() time.Time
}

// NewService wires the member lifecycle dependencies.
func NewService(st *store.Store, ph *photos.Dir, n Notifier, settings *config.SettingsFile) *Service {
	return &Service{store: st, photos: ph, notifier: n, settings: settings, now: time.Now}
}

// Registration carries the registration form. ID is optional; when empty
// the next numeric ID is generated. Photo is the captured face image.
type Registration struct {
	ID         string
	Name       string
	Gender     model.Gender
	Email      string
	Mobile     string
	Membership model.Membership
	Fee        float64
	JoinDate   time.Time
	Photo      io.Reader
}

// Result is a committed lifecycle change plus any non-fatal warnings.
type Result struct {
	Member       model.Member `json:"member"`
	PhotoWarning string       `json:"photo_warning,omitempty"`
	MailWarning  string       `json:"mail_warning,omitempty"`
}

// Register validates the form, persists the photo and member row, and
// fires the registration email. Photo and email failures are warnings;
// the member row commits regardless.
func (s *Service) Register(reg Registration) (Result, error) {
	if reg.Name == "" || reg.Email == "" || reg.Mobile == "" || reg.Photo == nil {
		return Result{}, errors.New("name, email, mobile and a captured photo are required")
	}
	if reg.Fee < 0 {
		return Result{}, errors.New("fee must not be negative")
	}

	id := strings.TrimSpace(reg.ID)
	if id != "" {
		members, err := s.store.Members()
		if err != nil {
			return Result{}, err
		}
		for _, m := range members {
			if m.ID == id {
				return Result{}, ErrDuplicateID
			}
		}
	} else {
		var err error
		id, err = s.store.NextMemberID()
		if err != nil {
			return Result{}, err
		}
	}

	res := Result{}
	imagePath, err := s.photos.Save(id, reg.Name, reg.Photo)
	if err != nil {
		// Registration continues with an empty photo reference; the
		// member just cannot be matched until a photo is re-captured.
		res.PhotoWarning = fmt.Sprintf("photo not saved: %v", err)
		log.Printf("member %s: %s", id, res.PhotoWarning)
		imagePath = ""
	}

	joinDate := reg.JoinDate
	if joinDate.IsZero() {
		joinDate = s.now()
	}
	m := model.Member{
		ID:         id,
		Name:       reg.Name,
		Gender:     reg.Gender,
		Email:      reg.Email,
		Mobile:     reg.Mobile,
		Membership: reg.Membership,
		Fee:        reg.Fee,
		JoinDate:   joinDate,
		ImagePath:  imagePath,
	}
	if err := s.store.AppendMember(m); err != nil {
		return Result{}, err
	}
	res.Member = m
	res.MailWarning = s.notify(s.notifier.MemberRegistered, m)
	return res, nil
}

// Update rewrites every mutable field of the member in place and
// optionally replaces the stored photo.
type Update struct {
	Name       string
	Gender     model.Gender
	Email      string
	Mobile     string
	Membership model.Membership
	Fee        float64
	JoinDate   time.Time // zero keeps the current join date
	Photo      io.Reader // nil keeps the current photo
}

// Update applies the change to the member with the given ID.
func (s *Service) Update(id string, upd Update) (Result, error) {
	members, err := s.store.Members()
	if err != nil {
		return Result{}, err
	}
	idx := -1
	for i, m := range members {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result{}, ErrNotFound
	}

	res := Result{}
	imagePath := members[idx].ImagePath
	if upd.Photo != nil {
		newPath, err := s.photos.Save(id, upd.Name, upd.Photo)
		if err != nil {
			res.PhotoWarning = fmt.Sprintf("new photo not saved, keeping old one: %v", err)
			log.Printf("member %s: %s", id, res.PhotoWarning)
		} else {
			// A renamed member gets a new filename; drop the stale file.
			if imagePath != "" && imagePath != newPath {
				_ = s.photos.Remove(imagePath)
			}
			imagePath = newPath
		}
	}

	// An omitted join date keeps the stored one rather than zeroing it.
	joinDate := upd.JoinDate
	if joinDate.IsZero() {
		joinDate = members[idx].JoinDate
	}

	m := model.Member{
		ID:         id,
		Name:       upd.Name,
		Gender:     upd.Gender,
		Email:      upd.Email,
		Mobile:     upd.Mobile,
		Membership: upd.Membership,
		Fee:        upd.Fee,
		JoinDate:   joinDate,
		ImagePath:  imagePath,
	}
	members[idx] = m
	if err := s.store.ReplaceMembers(members); err != nil {
		return Result{}, err
	}
	res.Member = m
	res.MailWarning = s.notify(s.notifier.MemberUpdated, m)
	return res, nil
}

// Delete archives the member row with a deletion timestamp, removes the
// stored photo, drops the member row and cascades over the attendance
// table, then fires the deletion email.
func (s *Service) Delete(id string) (Result, error) {
	members, err := s.store.Members()
	if err != nil {
		return Result{}, err
	}
	idx := -1
	for i, m := range members {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result{}, ErrNotFound
	}
	m := members[idx]

	if err := s.store.AppendDeleted(model.DeletedMember{Member: m, DeletedAt: s.now()}); err != nil {
		return Result{}, err
	}
	if err := s.photos.Remove(m.ImagePath); err != nil {
		log.Printf("member %s: photo not removed: %v", id, err)
	}

	members = append(members[:idx], members[idx+1:]...)
	if err := s.store.ReplaceMembers(members); err != nil {
		return Result{}, err
	}

	records, err := s.store.Attendance()
	if err != nil {
		return Result{}, err
	}
	kept := records[:0]
	for _, r := range records {
		if r.MemberID != id {
			kept = append(kept, r)
		}
	}
	if err := s.store.ReplaceAttendance(kept); err != nil {
		return Result{}, err
	}

	res := Result{Member: m}
	res.MailWarning = s.notify(s.notifier.MemberDeleted, m)
	return res, nil
}

// Reset unconditionally discards members, attendance, the deletion
// archive, the saved SMTP settings and every stored photo, then
// reinitializes empty tables.
func (s *Service) Reset() error {
	if err := s.store.Reset(); err != nil {
		return err
	}
	if err := s.photos.Reset(); err != nil {
		return err
	}
	return s.settings.Remove()
}

// Filter selects members for the browse view. ID matches exactly, Name
// and Mobile match substrings (Name case-insensitive).
type Filter struct {
	ID     string
	Name   string
	Mobile string
}

// Members returns the filtered member list in file order.
func (s *Service) Members(f Filter) ([]model.Member, error) {
	members, err := s.store.Members()
	if err != nil {
		return nil, err
	}
	out := make([]model.Member, 0, len(members))
	for _, m := range members {
		if f.ID != "" && m.ID != f.ID {
			continue
		}
		if f.Name != "" && !strings.Contains(strings.ToLower(m.Name), strings.ToLower(f.Name)) {
			continue
		}
		if f.Mobile != "" && !strings.Contains(m.Mobile, f.Mobile) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Get returns one member by ID.
func (s *Service) Get(id string) (model.Member, error) {
	members, err := s.store.Members()
	if err != nil {
		return model.Member{}, err
	}
	for _, m := range members {
		if m.ID == id {
			return m, nil
		}
	}
	return model.Member{}, ErrNotFound
}

func (s *Service) notify(send func(model.Member) error, m model.Member) string {
	if err := send(m); err != nil {
		log.Printf("member %s: notification not sent: %v", m.ID, err)
		return err.Error()
	}
	return ""
}
