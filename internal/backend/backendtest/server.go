// Package backendtest runs an in-memory property backend over HTTP for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"pgmanage.org/internal/backend"
)

const cookieName = "session"

type account struct {
	user     backend.User
	password string
}

// Server mimics the property backend's HTTP contract.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	accounts   map[string]*account
	sessions   map[string]string
	rooms      []backend.Room
	tenants    []backend.Tenant
	payments   []backend.Payment
	complaints []backend.NewComplaint
	nextUser   int64
	nextToken  int
	calls      map[string]int

	noCurrentUser  bool
	linkOnRegister bool
}

// SetNoCurrentUser makes GET /current-user answer 404, as older deployments do.
func (s *Server) SetNoCurrentUser(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noCurrentUser = v
}

// SetLinkOnRegister controls whether POST /register also creates the tenant record.
func (s *Server) SetLinkOnRegister(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkOnRegister = v
}

// New starts a server seeded with an admin account, a tenant account with a
// tenant record, and three rooms (one occupied).
func New() *Server {
	s := &Server{
		accounts: map[string]*account{},
		sessions: map[string]string{},
		calls:    map[string]int{},
		nextUser: 2,
		rooms: []backend.Room{
			{ID: 1, RoomNo: "101", RoomType: "Single", Rent: 5000, Status: backend.RoomOccupied},
			{ID: 2, RoomNo: "102", RoomType: "Double", Rent: 8000, Status: backend.RoomAvailable},
			{ID: 3, RoomNo: "201", RoomType: "Single", Rent: 5500, Status: backend.RoomAvailable},
		},
		linkOnRegister: true,
	}
	s.accounts["admin@pg.com"] = &account{user: backend.User{ID: 1, Email: "admin@pg.com", Role: backend.RoleAdmin}, password: "admin123"}
	s.accounts["tenant@pg.com"] = &account{user: backend.User{ID: 2, Email: "tenant@pg.com", Role: backend.RoleTenant}, password: "tenant123"}
	s.tenants = []backend.Tenant{{ID: 1, UserID: 2, Name: "Test Tenant", Email: "tenant@pg.com", Phone: "9876543210", RoomID: 1, RoomNo: "101", RoomType: "Single", Rent: 5000, JoinDate: "2024-01-01"}}
	s.payments = []backend.Payment{
		{ID: 1, TenantID: 1, Month: "2024-01", Amount: 5000, Paid: true},
		{ID: 2, TenantID: 1, Month: "2024-02", Amount: 5000, Paid: false},
	}
	s.complaints = []backend.NewComplaint{{TenantID: 1, Category: "Plumbing", Description: "Leaking tap"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.register)
	mux.HandleFunc("/login", s.login)
	mux.HandleFunc("/logout", s.logout)
	mux.HandleFunc("/current-user", s.currentUser)
	mux.HandleFunc("/users", s.users)
	mux.HandleFunc("/rooms", s.roomsHandler)
	mux.HandleFunc("/tenants", s.tenantsHandler)
	mux.HandleFunc("/tenants/", s.tenantPayments)
	mux.HandleFunc("/payments", s.paymentsHandler)
	mux.HandleFunc("/complaints", s.complaintsHandler)
	mux.HandleFunc("/receipts/", s.receipt)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	return s
}

// Calls reports how often method and path were requested.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

// Accounts reports the number of accounts.
func (s *Server) Accounts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// Tenants returns a copy of the tenant records.
func (s *Server) Tenants() []backend.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Tenant(nil), s.tenants...)
}

// Room returns the room with id.
func (s *Server) Room(id int64) (backend.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return backend.Room{}, false
}

func write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) caller(r *http.Request) (*account, bool) {
	ck, err := r.Cookie(cookieName)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.sessions[ck.Value]
	if !ok {
		return nil, false
	}
	return s.accounts[email], true
}

func (s *Server) requireLogin(w http.ResponseWriter, r *http.Request) (*account, bool) {
	acct, ok := s.caller(r)
	if !ok {
		write(w, http.StatusUnauthorized, map[string]string{"error": "Login required"})
		return nil, false
	}
	return acct, true
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req backend.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		write(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
		return
	}
	email := strings.ToLower(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; ok {
		write(w, http.StatusBadRequest, map[string]string{"message": "Email already exists"})
		return
	}
	role := req.Role
	if role == "" {
		role = backend.RoleTenant
	}
	s.nextUser++
	user := backend.User{ID: s.nextUser, Email: email, Role: role}
	s.accounts[email] = &account{user: user, password: req.Password}

	resp := map[string]any{"message": "User created", "user_id": user.ID}
	if role == backend.RoleTenant && s.linkOnRegister {
		if req.RoomID == 0 {
			write(w, http.StatusBadRequest, map[string]string{"message": "Room selection is required"})
			return
		}
		idx := s.availableRoom(req.RoomID)
		if idx < 0 {
			write(w, http.StatusBadRequest, map[string]string{"message": "Selected room is no longer available"})
			return
		}
		t := s.addTenant(user, req.Name, req.Phone, idx)
		resp["tenant_id"] = t.ID
	}
	write(w, http.StatusCreated, resp)
}

func (s *Server) availableRoom(id int64) int {
	for i, room := range s.rooms {
		if room.ID == id && room.Status == backend.RoomAvailable {
			return i
		}
	}
	return -1
}

func (s *Server) addTenant(user backend.User, name, phone string, roomIdx int) backend.Tenant {
	room := &s.rooms[roomIdx]
	room.Status = backend.RoomOccupied
	t := backend.Tenant{
		ID:       int64(len(s.tenants) + 1),
		UserID:   user.ID,
		Name:     name,
		Email:    user.Email,
		Phone:    phone,
		RoomID:   room.ID,
		RoomNo:   room.RoomNo,
		RoomType: room.RoomType,
		Rent:     room.Rent,
		JoinDate: time.Now().Format("2006-01-02"),
	}
	s.tenants = append(s.tenants, t)
	return t
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		write(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(body.Email)]
	if !ok || acct.password != body.Password {
		s.mu.Unlock()
		write(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}
	s.nextToken++
	token := fmt.Sprintf("tok-%d", s.nextToken)
	s.sessions[token] = acct.user.Email
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: token, Path: "/", HttpOnly: true})
	write(w, http.StatusOK, map[string]string{"message": "Login successful", "role": acct.user.Role})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireLogin(w, r); !ok {
		return
	}
	ck, _ := r.Cookie(cookieName)
	s.mu.Lock()
	delete(s.sessions, ck.Value)
	s.mu.Unlock()
	write(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	missing := s.noCurrentUser
	s.mu.Unlock()
	if missing {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<!doctype html><title>404 Not Found</title>"))
		return
	}
	acct, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	write(w, http.StatusOK, acct.user)
}

func (s *Server) users(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	if acct.user.Role != backend.RoleAdmin {
		write(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.user)
	}
	write(w, http.StatusOK, out)
}

func (s *Server) roomsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		write(w, http.StatusOK, s.rooms)
	case http.MethodPost:
		acct, ok := s.requireLogin(w, r)
		if !ok {
			return
		}
		if acct.user.Role != backend.RoleAdmin {
			write(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
			return
		}
		var room backend.NewRoom
		if err := json.NewDecoder(r.Body).Decode(&room); err != nil {
			write(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
			return
		}
		if room.Status == "" {
			room.Status = backend.RoomAvailable
		}
		s.mu.Lock()
		s.rooms = append(s.rooms, backend.Room{ID: int64(len(s.rooms) + 1), RoomNo: room.RoomNo, RoomType: room.RoomType, Rent: room.Rent, Status: room.Status})
		s.mu.Unlock()
		write(w, http.StatusOK, map[string]string{"message": "Room added"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) tenantsHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		write(w, http.StatusOK, s.Tenants())
	case http.MethodPost:
		var req backend.TenantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			write(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if acct.user.Role == backend.RoleTenant {
			req.UserID = acct.user.ID
		}
		if req.UserID == 0 {
			write(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		idx := s.availableRoom(req.RoomID)
		if idx < 0 {
			write(w, http.StatusBadRequest, map[string]string{"message": "Selected room is no longer available"})
			return
		}
		var user backend.User
		for _, a := range s.accounts {
			if a.user.ID == req.UserID {
				user = a.user
			}
		}
		t := s.addTenant(user, req.Name, req.Phone, idx)
		write(w, http.StatusOK, map[string]any{"message": "Tenant added", "tenant_id": t.ID})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) tenantPayments(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/tenants/")
	idStr, tail, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || tail != "payments" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var tenant *backend.Tenant
	for i := range s.tenants {
		if s.tenants[i].ID == id {
			tenant = &s.tenants[i]
		}
	}
	if tenant == nil {
		write(w, http.StatusNotFound, map[string]string{"error": "Tenant not found"})
		return
	}
	if acct.user.Role == backend.RoleTenant && acct.user.ID != tenant.UserID {
		write(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
		return
	}
	out := []backend.Payment{}
	for _, p := range s.payments {
		if p.TenantID == id {
			p.Status = "Pending"
			if p.Paid {
				p.Status = "Paid"
			}
			out = append(out, p)
		}
	}
	write(w, http.StatusOK, out)
}

func (s *Server) paymentsHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]backend.Payment, 0, len(s.payments))
		for _, p := range s.payments {
			out = append(out, backend.Payment{TenantID: p.TenantID, Month: p.Month, Paid: p.Paid})
		}
		write(w, http.StatusOK, out)
	case http.MethodPost:
		if acct.user.Role != backend.RoleAdmin {
			write(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
			return
		}
		var p backend.NewPayment
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			write(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		s.mu.Lock()
		s.payments = append(s.payments, backend.Payment{ID: int64(len(s.payments) + 1), TenantID: p.TenantID, Month: p.Month, Amount: p.Amount, Paid: p.Paid})
		s.mu.Unlock()
		write(w, http.StatusOK, map[string]string{"message": "Payment recorded"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) complaintsHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]backend.Complaint, 0, len(s.complaints))
		for _, c := range s.complaints {
			out = append(out, backend.Complaint{Category: c.Category, Status: "Open"})
		}
		write(w, http.StatusOK, out)
	case http.MethodPost:
		if acct.user.Role != backend.RoleTenant {
			write(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
			return
		}
		var c backend.NewComplaint
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			write(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		s.mu.Lock()
		s.complaints = append(s.complaints, c)
		s.mu.Unlock()
		write(w, http.StatusOK, map[string]string{"message": "Complaint submitted"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) receipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireLogin(w, r); !ok {
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/receipts/"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID != id {
			continue
		}
		var t backend.Tenant
		for _, cand := range s.tenants {
			if cand.ID == p.TenantID {
				t = cand
			}
		}
		status := "Pending"
		if p.Paid {
			status = "Paid"
		}
		write(w, http.StatusOK, backend.Receipt{
			ReceiptID:     p.ID,
			ReceiptNumber: fmt.Sprintf("RCP-%05d", p.ID),
			ReceiptDate:   time.Now().Format("2006-01-02"),
			TenantName:    t.Name,
			TenantEmail:   t.Email,
			TenantPhone:   t.Phone,
			RoomNo:        t.RoomNo,
			RoomType:      t.RoomType,
			PaymentMonth:  p.Month,
			RentAmount:    p.Amount,
			PaymentStatus: status,
			PaymentDate:   p.Month + "-01",
			Organization:  "PG Management",
		})
		return
	}
	write(w, http.StatusNotFound, map[string]string{"error": "Payment not found"})
}
