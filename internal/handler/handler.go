// Package handler exposes the kiosk API: member lifecycle, face-matched
// attendance, filtered browsing with CSV export, settings and reset.
package handler

import (
	"encoding/csv"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gymkiosk/internal/attendance"
	"gymkiosk/internal/auth"
	"gymkiosk/internal/config"
	"gymkiosk/internal/faceclient"
	"gymkiosk/internal/identity"
	"gymkiosk/internal/member"
	"gymkiosk/internal/model"
	"gymkiosk/internal/photos"
	"gymkiosk/internal/store"
)

// resetPhrase must be echoed back by staff before the irreversible wipe.
const resetPhrase = "DELETE ALL"

type Handler struct {
	cfg      config.App
	store    *store.Store
	photos   *photos.Dir
	members  *member.Service
	ledger   *attendance.Ledger
	resolver *identity.Resolver
	settings *config.SettingsFile
	face     *faceclient.Client
}

func New(cfg config.App, st *store.Store, ph *photos.Dir, members *member.Service, ledger *attendance.Ledger, resolver *identity.Resolver, settings *config.SettingsFile, face *faceclient.Client) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    st,
		photos:   ph,
		members:  members,
		ledger:   ledger,
		resolver: resolver,
		settings: settings,
		face:     face,
	}
}

// Routes registers every endpoint. staffAuth gates the destructive and
// settings routes.
func (h *Handler) Routes(r gin.IRouter, staffAuth gin.HandlerFunc) {
	api := r.Group("/api")

	api.GET("/healthz", h.Healthz)
	api.POST("/login", h.Login)

	api.POST("/members", h.RegisterMember)
	api.GET("/members", h.ListMembers)
	api.GET("/members/export", h.ExportMembers)
	api.GET("/members/:id", h.GetMember)

	api.POST("/attendance/entry", h.AttendanceEntry)
	api.POST("/attendance/exit", h.AttendanceExit)
	api.GET("/attendance", h.ListAttendance)
	api.GET("/attendance/export", h.ExportAttendance)

	admin := api.Group("", staffAuth)
	admin.PUT("/members/:id", h.UpdateMember)
	admin.DELETE("/members/:id", h.DeleteMember)
	admin.GET("/settings", h.GetSettings)
	admin.PUT("/settings", h.SaveSettings)
	admin.POST("/reset", h.Reset)
}

// ---------- Health / Login ----------

func (h *Handler) Healthz(c *gin.Context) {
	faceHealthy := h.face.Health(c.Request.Context()) == nil
	_, storeErr := h.store.Members()
	status := http.StatusOK
	if storeErr != nil {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "store": storeErr == nil, "face_service": faceHealthy})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password != h.cfg.StaffPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong password"})
		return
	}
	token, exp, err := auth.Issue(h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

// ---------- Members ----------

type memberForm struct {
	ID         string  `form:"id"`
	Name       string  `form:"name" binding:"required"`
	Gender     string  `form:"gender" binding:"required,oneof=Male Female Other"`
	Email      string  `form:"email" binding:"required,email"`
	Mobile     string  `form:"mobile" binding:"required"`
	Membership string  `form:"membership" binding:"required,oneof=Monthly Quarterly Yearly"`
	Fee        float64 `form:"fee" binding:"gte=0"`
	JoinDate   string  `form:"join_date"`
}

func (f memberForm) joinDate() (time.Time, error) {
	if f.JoinDate == "" {
		return time.Time{}, nil
	}
	return time.Parse(model.DateLayout, f.JoinDate)
}

// RegisterMember expects a multipart form with the member fields and a
// captured photo file.
func (h *Handler) RegisterMember(c *gin.Context) {
	var form memberForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	joinDate, err := form.joinDate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "join_date must be YYYY-MM-DD"})
		return
	}
	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()

	res, err := h.members.Register(member.Registration{
		ID:         form.ID,
		Name:       form.Name,
		Gender:     model.Gender(form.Gender),
		Email:      form.Email,
		Mobile:     form.Mobile,
		Membership: model.Membership(form.Membership),
		Fee:        form.Fee,
		JoinDate:   joinDate,
		Photo:      file,
	})
	if err != nil {
		if errors.Is(err, member.ErrDuplicateID) {
			c.JSON(http.StatusConflict, gin.H{"error": "member id already exists, choose another or leave blank for auto"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListMembers(c *gin.Context) {
	members, err := h.members.Members(member.Filter{
		ID:     c.Query("id"),
		Name:   c.Query("name"),
		Mobile: c.Query("mobile"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	c.JSON(http.StatusOK, members)
}

func (h *Handler) GetMember(c *gin.Context) {
	m, err := h.members.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// ExportMembers streams the filtered member list as a CSV download.
func (h *Handler) ExportMembers(c *gin.Context) {
	members, err := h.members.Members(member.Filter{
		ID:     c.Query("id"),
		Name:   c.Query("name"),
		Mobile: c.Query("mobile"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows := make([][]string, len(members))
	for i, m := range members {
		rows[i] = m.Record()
	}
	writeCSV(c, "members_filtered.csv", model.MemberHeader, rows)
}

func (h *Handler) UpdateMember(c *gin.Context) {
	var form memberForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	joinDate, err := form.joinDate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "join_date must be YYYY-MM-DD"})
		return
	}

	upd := member.Update{
		Name:       form.Name,
		Gender:     model.Gender(form.Gender),
		Email:      form.Email,
		Mobile:     form.Mobile,
		Membership: model.Membership(form.Membership),
		Fee:        form.Fee,
		JoinDate:   joinDate,
	}
	// New photo is optional on update.
	if file, _, err := c.Request.FormFile("photo"); err == nil {
		defer file.Close()
		upd.Photo = file
	}

	res, err := h.members.Update(c.Param("id"), upd)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteMember(c *gin.Context) {
	res, err := h.members.Delete(c.Param("id"))
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- Attendance ----------

// scanLogEvery paces the in-flight scan log so large rosters do not
// flood it.
const scanLogEvery = 10

// AttendanceEntry matches the captured face and marks today's entry.
func (h *Handler) AttendanceEntry(c *gin.Context) {
	res, ok := h.resolveProbe(c)
	if !ok {
		return
	}
	m := res.Member
	rec, err := h.ledger.MarkEntry(*m)
	if err != nil {
		if errors.Is(err, attendance.ErrAlreadyMarked) {
			c.JSON(http.StatusConflict, gin.H{"error": "entry already marked today", "member": m})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "member": m, "distance": res.Distance, "compared": res.Compared, "attendance": rec})
}

// AttendanceExit matches the captured face and closes today's open entry.
func (h *Handler) AttendanceExit(c *gin.Context) {
	res, ok := h.resolveProbe(c)
	if !ok {
		return
	}
	m := res.Member
	rec, err := h.ledger.MarkExit(*m)
	if err != nil {
		if errors.Is(err, attendance.ErrNoOpenEntry) {
			c.JSON(http.StatusConflict, gin.H{"error": "no open entry for today, mark entry first", "member": m})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "member": m, "distance": res.Distance, "compared": res.Compared, "attendance": rec})
}

// resolveProbe reads the captured photo, runs the identity scan and
// writes the error response itself when no member matches.
func (h *Handler) resolveProbe(c *gin.Context) (identity.Result, bool) {
	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return identity.Result{}, false
	}
	defer file.Close()

	probePath, err := h.photos.SaveProbe(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read captured photo"})
		return identity.Result{}, false
	}
	defer func() {
		if err := h.photos.Remove(probePath); err != nil {
			log.Printf("probe cleanup: %v", err)
		}
	}()

	members, err := h.store.Members()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return identity.Result{}, false
	}
	if len(members) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"matched": false, "error": "no registered members to match"})
		return identity.Result{}, false
	}

	progress := func(done, total int) {
		if done%scanLogEvery == 0 || done == total {
			log.Printf("identity scan %d/%d", done, total)
		}
	}
	res, err := h.resolver.Resolve(c.Request.Context(), probePath, members, progress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return identity.Result{}, false
	}
	if res.Member == nil {
		c.JSON(http.StatusNotFound, gin.H{"matched": false, "error": "no matching member found", "compared": res.Compared})
		return identity.Result{}, false
	}
	return res, true
}

func (h *Handler) ListAttendance(c *gin.Context) {
	records, err := h.ledger.Records(attendance.Filter{
		Date: c.Query("date"),
		ID:   c.Query("id"),
		Name: c.Query("name"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []model.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// ExportAttendance streams the filtered attendance log as a CSV download.
func (h *Handler) ExportAttendance(c *gin.Context) {
	records, err := h.ledger.Records(attendance.Filter{
		Date: c.Query("date"),
		ID:   c.Query("id"),
		Name: c.Query("name"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.Record()
	}
	writeCSV(c, "attendance_filtered.csv", model.AttendanceHeader, rows)
}

// ---------- Settings / Reset ----------

// GetSettings reports the saved sender address. The password is never echoed.
func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.settings.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin_email": s.AdminEmail, "configured": s.Configured()})
}

func (h *Handler) SaveSettings(c *gin.Context) {
	var req struct {
		AdminEmail string `json:"admin_email" binding:"required,email"`
		AdminPass  string `json:"admin_pass" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.Save(config.Settings{AdminEmail: req.AdminEmail, AdminPass: req.AdminPass}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// Reset wipes all tables, photos and settings. Staff must echo the
// confirmation phrase.
func (h *Handler) Reset(c *gin.Context) {
	var req struct {
		Confirm string `json:"confirm" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Confirm != resetPhrase {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmation phrase required: " + resetPhrase})
		return
	}
	if err := h.members.Reset(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Printf("database reset by staff request")
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func writeCSV(c *gin.Context, filename string, header []string, rows [][]string) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	w := csv.NewWriter(c.Writer)
	_ = w.Write(header)
	_ = w.WriteAll(rows)
	w.Flush()
}
