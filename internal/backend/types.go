package backend

// Room statuses reported by the backend.
const (
	RoomAvailable = "Available"
	RoomOccupied  = "Occupied"
)

// Roles reported by /login and /users.
const (
	RoleAdmin  = "ADMIN"
	RoleTenant = "TENANT"
)

// User is one account as listed by /users or returned by /current-user.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Room is one entry of the room inventory.
type Room struct {
	ID       int64  `json:"id"`
	RoomNo   string `json:"room_no"`
	RoomType string `json:"room_type"`
	Rent     int64  `json:"rent"`
	Status   string `json:"status"`
}

// NewRoom is the body of POST /rooms (admin only).
type NewRoom struct {
	RoomNo   string `json:"room_no"`
	RoomType string `json:"room_type"`
	Rent     int64  `json:"rent"`
	Status   string `json:"status,omitempty"`
}

// Tenant links an account to a room. Room fields are denormalised by the backend
// and hold "N/A" when the room no longer exists.
type Tenant struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	RoomID   int64  `json:"room_id"`
	RoomNo   string `json:"room_no"`
	RoomType string `json:"room_type"`
	Rent     int64  `json:"rent"`
	JoinDate string `json:"join_date"`
}

// TenantRequest is the body of POST /tenants.
type TenantRequest struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	RoomID   int64  `json:"room_id"`
	JoinDate string `json:"join_date,omitempty"`
}

// TenantRef identifies a created tenant record. ID is zero when the backend
// confirmed creation without echoing the identifier.
type TenantRef struct {
	ID int64 `json:"tenant_id"`
}

// Payment is a monthly rent record. /payments returns tenant_id, month and paid;
// /tenants/{id}/payments returns id, month, amount, paid and status.
type Payment struct {
	ID       int64  `json:"id,omitempty"`
	TenantID int64  `json:"tenant_id,omitempty"`
	Month    string `json:"month"`
	Amount   int64  `json:"amount,omitempty"`
	Paid     bool   `json:"paid"`
	Status   string `json:"status,omitempty"`
}

// NewPayment is the body of POST /payments (admin only).
type NewPayment struct {
	TenantID int64  `json:"tenant_id"`
	Month    string `json:"month"`
	Amount   int64  `json:"amount"`
	Paid     bool   `json:"paid"`
}

// Complaint as listed by /complaints.
type Complaint struct {
	Category string `json:"category"`
	Status   string `json:"status"`
}

// NewComplaint is the body of POST /complaints (tenants only).
type NewComplaint struct {
	TenantID    int64  `json:"tenant_id"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Receipt is the rent receipt for one payment.
type Receipt struct {
	ReceiptID     int64  `json:"receipt_id"`
	ReceiptNumber string `json:"receipt_number"`
	ReceiptDate   string `json:"receipt_date"`
	TenantName    string `json:"tenant_name"`
	TenantEmail   string `json:"tenant_email"`
	TenantPhone   string `json:"tenant_phone"`
	RoomNo        string `json:"room_no"`
	RoomType      string `json:"room_type"`
	PaymentMonth  string `json:"payment_month"`
	RentAmount    int64  `json:"rent_amount"`
	PaymentStatus string `json:"payment_status"`
	PaymentDate   string `json:"payment_date"`
	Organization  string `json:"organization"`
}

// RegisterRequest is the body of POST /register. RoomID is always sent so the
// backend can create the tenant record in the same call.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	RoomID   int64  `json:"room_id"`
	Role     string `json:"role"`
}

// Registration is the result of account creation: either Created or CreatedWithTenant.
type Registration interface {
	AccountID() int64
	isRegistration()
}

// Created means the account exists but no tenant record was linked.
type Created struct {
	ID int64
}

// CreatedWithTenant means the backend created the account and its tenant record together.
type CreatedWithTenant struct {
	ID       int64
	TenantID int64
}

func (c Created) AccountID() int64           { return c.ID }
func (c CreatedWithTenant) AccountID() int64 { return c.ID }
func (Created) isRegistration()              {}
func (CreatedWithTenant) isRegistration()    {}

// LoginResult is the body of a successful POST /login.
type LoginResult struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

type registerResponse struct {
	Message  string `json:"message"`
	UserID   int64  `json:"user_id"`
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
}

func (r registerResponse) registration() Registration {
	id := r.UserID
	if id == 0 {
		id = r.ID
	}
	if r.TenantID != 0 {
		return CreatedWithTenant{ID: id, TenantID: r.TenantID}
	}
	return Created{ID: id}
}
