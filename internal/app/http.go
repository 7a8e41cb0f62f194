package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"tomorrow/api/internal/metrics"
	"tomorrow/api/internal/persist"
	"tomorrow/api/internal/rbac"
	"tomorrow/api/internal/session"
	"tomorrow/api/internal/util"
)

const maxBodyBytes = 1 << 20

type HTTPOptions struct {
	CORSOrigin string
	StaticDir  string
	// Hidden lists files under StaticDir that are never served.
	Hidden    []string
	RateLimit float64
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	static     *staticFiles
	limiter    *ipLimiter
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	corsOrigin := opts.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		static:     newStaticFiles(opts.StaticDir, opts.Hidden),
		limiter:    newIPLimiter(opts.RateLimit),
		metrics:    opts.Metrics,
		log:        opts.Logger.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	if s.metrics != nil {
		router.Use(func(next http.Handler) http.Handler {
			return s.metrics.Instrument(next, routeTemplate)
		})
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/public", s.handlePublic).Methods(http.MethodGet)
	router.HandleFunc("/api/prayers", s.handleListPrayers).Methods(http.MethodGet)
	router.HandleFunc("/api/prayers", s.limited(s.handleSubmitPrayer)).Methods(http.MethodPost)
	router.HandleFunc("/api/pulse", s.limited(s.handlePulse)).Methods(http.MethodGet, http.MethodPost)

	router.HandleFunc("/api/admin/exists", s.handleAdminExists).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/register", s.limited(s.handleAdminRegister)).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/login", s.limited(s.handleAdminLogin)).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/logout", s.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/add_admin", s.admin(s.handleAddAdmin)).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/list_admins", s.admin(s.handleListAdmins)).Methods(http.MethodGet)

	router.HandleFunc("/api/admin/members", s.admin(s.handleListMembers)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/members", s.admin(s.handleAddMember)).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/members", s.admin(s.handleDeleteMember)).Methods(http.MethodDelete)
	router.HandleFunc("/api/admin/members/{id}", s.admin(s.handleDeleteMember)).Methods(http.MethodDelete)
	router.HandleFunc("/api/admin/attendance", s.admin(s.handleListAttendance)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/attendance", s.admin(s.handleMarkAttendance)).Methods(http.MethodPost)

	router.HandleFunc("/api/admin/staff", s.admin(s.handleListStaff)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/staff", s.admin(s.handleAddStaff)).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/staff", s.admin(s.handleDeleteStaff)).Methods(http.MethodDelete)
	router.HandleFunc("/api/admin/staff/{id}", s.admin(s.handleUpdateStaff)).Methods(http.MethodPut)
	router.HandleFunc("/api/admin/staff/{id}", s.admin(s.handleDeleteStaff)).Methods(http.MethodDelete)

	router.HandleFunc("/api/admin/prayers/{id}/reply", s.staff(rbac.PermReplyPrayers, s.handleReplyPrayer)).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/prayers/{id}/assign", s.admin(s.handleAssignPrayer)).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/prayers/{id}", s.admin(s.handleDeletePrayer)).Methods(http.MethodDelete)
	router.HandleFunc("/api/admin/pulses", s.admin(s.handleListPulses)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/history", s.admin(s.handleHistory)).Methods(http.MethodGet)

	for _, collection := range contentCollections {
		base := "/api/admin/" + collection.key
		router.HandleFunc(base, s.staff(rbac.PermPostContent, s.handleListContent(collection))).Methods(http.MethodGet)
		router.HandleFunc(base, s.staff(rbac.PermPostContent, s.handlePostContent(collection))).Methods(http.MethodPost)
		router.HandleFunc(base+"/{id}", s.staff(rbac.PermPostContent, s.handleUpdateContent(collection))).Methods(http.MethodPut)
		router.HandleFunc(base+"/{id}", s.staff(rbac.PermPostContent, s.handleDeleteContent(collection))).Methods(http.MethodDelete)
	}
	for _, ledger := range giftLedgers {
		base := "/api/admin/" + ledger.key
		router.HandleFunc(base, s.staff(ledger.perm, s.handleListGifts(ledger))).Methods(http.MethodGet)
		router.HandleFunc(base, s.staff(ledger.perm, s.handleAddGift(ledger))).Methods(http.MethodPost)
		router.HandleFunc(base+"/{id}", s.staff(ledger.perm, s.handleDeleteGift(ledger))).Methods(http.MethodDelete)
	}

	router.HandleFunc("/api/staff/login", s.limited(s.handleStaffLogin)).Methods(http.MethodPost)
	router.HandleFunc("/api/staff/logout", s.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/api/staff/me", s.handleStaffMe).Methods(http.MethodGet)

	s.static.register(router)

	return s.withMiddleware(router)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return ""
}

type principalHandler func(w http.ResponseWriter, r *http.Request, principal *session.Principal)

func (s *HTTPServer) admin(next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := s.principal(r)
		if err := s.service.Gate().RequireAdmin(principal); err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, principal)
	}
}

func (s *HTTPServer) staff(perm rbac.Permission, next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := s.principal(r)
		if err := s.service.Gate().RequireStaffPermission(r.Context(), principal, perm); err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, principal)
	}
}

func (s *HTTPServer) principal(r *http.Request) *session.Principal {
	token := sessionToken(r)
	if token == "" {
		return nil
	}
	return s.service.Principal(r.Context(), token)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

// Health

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Health(r.Context()))
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			continue
		}
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks[name] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Public

func (s *HTTPServer) handlePublic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Public(r.Context()))
}

func (s *HTTPServer) handleListPrayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListPrayers(r.Context()))
}

func (s *HTTPServer) handleSubmitPrayer(w http.ResponseWriter, r *http.Request) {
	var body PrayerInput
	if !s.decode(w, r, &body) {
		return
	}
	prayer, err := s.service.SubmitPrayer(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "prayer": prayer})
}

func (s *HTTPServer) handlePulse(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get("X-Pulse-Token"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if !s.service.PulseAllowed(token) {
		s.fail(w, r, errPulseUnauthorized)
		return
	}

	input := PulseInput{
		Source: r.URL.Query().Get("source"),
		Note:   r.URL.Query().Get("note"),
	}
	if r.Method == http.MethodPost {
		if !s.decode(w, r, &input) {
			return
		}
	}
	if strings.TrimSpace(input.Source) == "" {
		input.Source = r.UserAgent()
	}

	entry, err := s.service.IngestPulse(r.Context(), token, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pulse": entry})
}

// Admin accounts

func (s *HTTPServer) handleAdminExists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"exists": s.service.AdminExists(r.Context())})
}

func (s *HTTPServer) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var body Credentials
	if !s.decode(w, r, &body) {
		return
	}
	admin, login, err := s.service.RegisterAdmin(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.startSession(w, r, login)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "admin": admin})
}

func (s *HTTPServer) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var body Credentials
	if !s.decode(w, r, &body) {
		return
	}
	admin, login, err := s.service.LoginAdmin(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.startSession(w, r, login)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "admin": admin})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), sessionToken(r)); err != nil {
		s.log.Warn().Err(err).Msg("revoke session")
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAddAdmin(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body Credentials
	if !s.decode(w, r, &body) {
		return
	}
	admin, err := s.service.AddAdmin(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "admin": admin})
}

func (s *HTTPServer) handleListAdmins(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	writeJSON(w, http.StatusOK, s.service.ListAdmins(r.Context()))
}

// Members and attendance

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	writeJSON(w, http.StatusOK, s.service.ListMembers(r.Context()))
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body MemberInput
	if !s.decode(w, r, &body) {
		return
	}
	member, err := s.service.AddMember(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "member": member})
}

func (s *HTTPServer) handleDeleteMember(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteMember(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListAttendance(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	writeJSON(w, http.StatusOK, s.service.Attendance(r.Context()))
}

func (s *HTTPServer) handleMarkAttendance(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body AttendanceInput
	if !s.decode(w, r, &body) {
		return
	}
	if _, err := s.service.MarkAttendance(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Staff accounts

func (s *HTTPServer) handleListStaff(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	writeJSON(w, http.StatusOK, s.service.ListStaff(r.Context()))
}

func (s *HTTPServer) handleAddStaff(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body StaffInput
	if !s.decode(w, r, &body) {
		return
	}
	staff, err := s.service.AddStaff(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "staff": staff})
}

func (s *HTTPServer) handleUpdateStaff(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body StaffPatch
	if !s.decode(w, r, &body) {
		return
	}
	staff, err := s.service.UpdateStaff(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "staff": staff})
}

func (s *HTTPServer) handleDeleteStaff(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteStaff(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	var body Credentials
	if !s.decode(w, r, &body) {
		return
	}
	staff, login, err := s.service.LoginStaff(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.startSession(w, r, login)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "staff": staff})
}

func (s *HTTPServer) handleStaffMe(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.service.StaffMe(r.Context(), s.principal(r))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "staff": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "staff": staff})
}

// Prayers

func (s *HTTPServer) handleReplyPrayer(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body struct {
		Reply string `json:"reply"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	prayer, err := s.service.ReplyPrayer(r.Context(), mux.Vars(r)["id"], body.Reply)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "prayer": prayer})
}

func (s *HTTPServer) handleAssignPrayer(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body struct {
		AssignedTo string `json:"assigned_to"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	prayer, err := s.service.AssignPrayer(r.Context(), mux.Vars(r)["id"], body.AssignedTo)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "prayer": prayer})
}

func (s *HTTPServer) handleDeletePrayer(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	if err := s.service.DeletePrayer(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListPulses(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	writeJSON(w, http.StatusOK, s.service.ListPulses(r.Context()))
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	revisions, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "revisions": revisions})
}

// Content and gifts

type contentCollection struct {
	key      string
	singular string
}

var contentCollections = []contentCollection{
	{key: "events", singular: "event"},
	{key: "summons", singular: "summon"},
	{key: "bible", singular: "bible"},
	{key: "resources", singular: "resource"},
}

type giftLedger struct {
	key      string
	singular string
	perm     rbac.Permission
}

var giftLedgers = []giftLedger{
	{key: "donations", singular: "donation", perm: rbac.PermAddDonations},
	{key: "contributions", singular: "contribution", perm: rbac.PermAddContributions},
}

func (s *HTTPServer) handleListContent(c contentCollection) principalHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
		items, err := s.service.ListContent(r.Context(), c.key)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func (s *HTTPServer) handlePostContent(c contentCollection) principalHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
		fields := map[string]json.RawMessage{}
		if !s.decode(w, r, &fields) {
			return
		}
		item, err := s.service.PostContent(r.Context(), c.key, fields)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, c.singular: item})
	}
}

func (s *HTTPServer) handleUpdateContent(c contentCollection) principalHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
		fields := map[string]json.RawMessage{}
		if !s.decode(w, r, &fields) {
			return
		}
		item, err := s.service.UpdateContent(r.Context(), c.key, mux.Vars(r)["id"], fields)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, c.singular: item})
	}
}

func (s *HTTPServer) handleDeleteContent(c contentCollection) principalHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
		if err := s.service.DeleteContent(r.Context(), c.key, mux.Vars(r)["id"]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *HTTPServer) handleListGifts(l giftLedger) principalHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
		gifts, err := s.service.ListGifts(r.Context(), l.key)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, gifts)
	}
}

func (s *HTTPServer) handleAddGift(l giftLedger) principalHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
		var body GiftInput
		if !s.decode(w, r, &body) {
			return
		}
		gift, err := s.service.AddGift(r.Context(), l.key, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, l.singular: gift})
	}
}

func (s *HTTPServer) handleDeleteGift(l giftLedger) principalHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
		if err := s.service.DeleteGift(r.Context(), l.key, mux.Vars(r)["id"]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// targetID reads the record id from the path, or from {"id": ...} in the body.
func (s *HTTPServer) targetID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if id := mux.Vars(r)["id"]; id != "" {
		return id, true
	}
	var body struct {
		ID string `json:"id"`
	}
	if !s.decode(w, r, &body) {
		return "", false
	}
	if strings.TrimSpace(body.ID) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id required", nil)
		return "", false
	}
	return body.ID, true
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// Sessions

func sessionToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (s *HTTPServer) startSession(w http.ResponseWriter, r *http.Request, login Login) {
	if previous := sessionToken(r); previous != "" {
		_ = s.service.Logout(r.Context(), previous)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    login.Token,
		Path:     "/",
		Expires:  login.Principal.ExpiresAt,
		MaxAge:   int(time.Until(login.Principal.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func secureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// Middleware and helpers

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewToken("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Pulse-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"ok":    false,
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody accepts an empty body as an empty object.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, persist.ErrLocalWrite) {
		return http.StatusInternalServerError, "STORAGE_ERROR", "Could not save changes", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
