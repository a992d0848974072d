package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"pgmanage.org/internal/audit"
	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/dashboard"
	"pgmanage.org/internal/session"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type availableRoomsResponse struct {
	Items   []backend.Room         `json:"items"`
	Options []dashboard.RoomOption `json:"options"`
}

type dashboardResponse struct {
	Snapshot dashboard.Snapshot `json:"snapshot"`
	Summary  dashboard.Summary  `json:"summary"`
}

func (a *API) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRooms(w, r)
	case http.MethodPost:
		a.createRoom(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	rooms, err := c.ListRooms(r.Context())
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[backend.Room]{Items: nonNil(rooms)})
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	s, ok := requireRole(w, r, session.RoleAdmin)
	if !ok {
		return
	}
	var req backend.NewRoom
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoomNo = strings.TrimSpace(req.RoomNo)
	req.RoomType = strings.TrimSpace(req.RoomType)
	switch {
	case req.RoomNo == "":
		writeError(w, r, http.StatusBadRequest, "room_no is required")
		return
	case req.RoomType == "":
		writeError(w, r, http.StatusBadRequest, "room_type is required")
		return
	case req.Rent <= 0:
		writeError(w, r, http.StatusBadRequest, "rent must be > 0")
		return
	}
	if req.Status == "" {
		req.Status = backend.RoomAvailable
	}

	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	if err := c.CreateRoom(r.Context(), req); err != nil {
		writeBackendError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "console.room.create", map[string]any{
		"room_no": req.RoomNo,
		"rent":    req.Rent,
	})
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) handleAvailableRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	c, ok := a.backendFor(w, r, session.Session{})
	if !ok {
		return
	}
	rooms, err := c.ListRooms(r.Context())
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availableRoomsResponse{
		Items:   dashboard.AvailableRooms(rooms),
		Options: dashboard.RoomOptions(rooms),
	})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	if a.loader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "property service not configured")
		return
	}
	if r.URL.Query().Get("cached") == "1" {
		if snap, ok := a.loader.Cached(s.UserID); ok {
			writeJSON(w, http.StatusOK, dashboardResponse{Snapshot: snap, Summary: dashboard.Summarize(snap)})
			return
		}
	}
	snap, err := a.loader.Load(r.Context(), s)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{Snapshot: snap, Summary: dashboard.Summarize(snap)})
}

func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, ok := requireRole(w, r, session.RoleAdmin)
	if !ok {
		return
	}
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	tenants, err := c.ListTenants(r.Context())
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[backend.Tenant]{Items: nonNil(tenants)})
}

// handleTenantResource serves /v1/tenants/{id}/payments.
func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	idStr, tail, _ := strings.Cut(rest, "/")
	if tail != "payments" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "tenant id must be a positive integer")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	if !s.IsAdmin() && s.TenantID != id {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	payments, err := c.TenantPayments(r.Context(), id)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[backend.Payment]{Items: nonNil(payments)})
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listPayments(w, r)
	case http.MethodPost:
		a.createPayment(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listPayments(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	var (
		payments []backend.Payment
		err      error
	)
	switch {
	case s.IsAdmin():
		payments, err = c.ListPayments(r.Context())
	case s.TenantID > 0:
		payments, err = c.TenantPayments(r.Context(), s.TenantID)
	}
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[backend.Payment]{Items: nonNil(payments)})
}

func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	s, ok := requireRole(w, r, session.RoleAdmin)
	if !ok {
		return
	}
	var req backend.NewPayment
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Month = strings.TrimSpace(req.Month)
	switch {
	case req.TenantID <= 0:
		writeError(w, r, http.StatusBadRequest, "tenant_id is required")
		return
	case req.Month == "":
		writeError(w, r, http.StatusBadRequest, "month is required")
		return
	case req.Amount <= 0:
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	if err := c.CreatePayment(r.Context(), req); err != nil {
		writeBackendError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "console.payment.record", map[string]any{
		"tenant_id": req.TenantID,
		"month":     req.Month,
		"amount":    req.Amount,
		"paid":      req.Paid,
	})
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) handleComplaints(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listComplaints(w, r)
	case http.MethodPost:
		a.createComplaint(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listComplaints(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	complaints, err := c.ListComplaints(r.Context())
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[backend.Complaint]{Items: nonNil(complaints)})
}

func (a *API) createComplaint(w http.ResponseWriter, r *http.Request) {
	s, ok := requireRole(w, r, session.RoleTenant)
	if !ok {
		return
	}
	if s.TenantID <= 0 {
		writeError(w, r, http.StatusConflict, "link your account to a room first")
		return
	}
	var req backend.NewComplaint
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.TenantID = s.TenantID
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if req.Category == "" || req.Description == "" {
		writeError(w, r, http.StatusBadRequest, "category and description are required")
		return
	}
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	if err := c.CreateComplaint(r.Context(), req); err != nil {
		writeBackendError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "console.complaint.submit", map[string]any{
		"tenant_id": req.TenantID,
		"category":  req.Category,
	})
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/v1/receipts/"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "payment id must be a positive integer")
		return
	}
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	c, ok := a.backendFor(w, r, s)
	if !ok {
		return
	}
	receipt, err := c.Receipt(r.Context(), id)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
