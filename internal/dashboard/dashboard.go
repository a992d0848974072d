// Package dashboard derives the console views from lists fetched from the backend.
package dashboard

import (
	"fmt"
	"sort"
	"time"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/session"
)

// RoomOption is one entry of the registration room picker.
type RoomOption struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// RoomLabel renders a room the way the picker shows it.
func RoomLabel(r backend.Room) string {
	return fmt.Sprintf("Room %s (%s) - ₹%d/month", r.RoomNo, r.RoomType, r.Rent)
}

// AvailableRooms keeps the rooms whose status is Available, in listing order.
func AvailableRooms(rooms []backend.Room) []backend.Room {
	out := make([]backend.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.Status == backend.RoomAvailable {
			out = append(out, r)
		}
	}
	return out
}

// RoomOptions returns picker entries for the available rooms.
func RoomOptions(rooms []backend.Room) []RoomOption {
	avail := AvailableRooms(rooms)
	out := make([]RoomOption, 0, len(avail))
	for _, r := range avail {
		out = append(out, RoomOption{ID: r.ID, Label: RoomLabel(r)})
	}
	return out
}

// Snapshot is the set of lists visible to one session.
type Snapshot struct {
	Role       session.Role        `json:"role"`
	Rooms      []backend.Room      `json:"rooms"`
	Tenants    []backend.Tenant    `json:"tenants,omitempty"`
	Payments   []backend.Payment   `json:"payments,omitempty"`
	Complaints []backend.Complaint `json:"complaints,omitempty"`
	FetchedAt  time.Time           `json:"fetched_at"`
}

// Summary holds the dashboard counters.
type Summary struct {
	RoomsTotal         int            `json:"rooms_total"`
	RoomsAvailable     int            `json:"rooms_available"`
	RoomsOccupied      int            `json:"rooms_occupied"`
	Tenants            int            `json:"tenants"`
	PaymentsPaid       int            `json:"payments_paid"`
	PaymentsPending    int            `json:"payments_pending"`
	PendingRent        int64          `json:"pending_rent"`
	ComplaintsByStatus map[string]int `json:"complaints_by_status"`
	PendingMonths      []string       `json:"pending_months,omitempty"`
}

// Summarize computes the counters for snap. A pending payment without an amount
// is valued at its tenant's room rent when the tenant is known.
func Summarize(snap Snapshot) Summary {
	sum := Summary{
		RoomsTotal:         len(snap.Rooms),
		Tenants:            len(snap.Tenants),
		ComplaintsByStatus: map[string]int{},
	}
	for _, r := range snap.Rooms {
		switch r.Status {
		case backend.RoomAvailable:
			sum.RoomsAvailable++
		case backend.RoomOccupied:
			sum.RoomsOccupied++
		}
	}

	rent := make(map[int64]int64, len(snap.Tenants))
	for _, t := range snap.Tenants {
		rent[t.ID] = t.Rent
	}
	months := map[string]struct{}{}
	for _, p := range snap.Payments {
		if p.Paid {
			sum.PaymentsPaid++
			continue
		}
		sum.PaymentsPending++
		amount := p.Amount
		if amount == 0 {
			amount = rent[p.TenantID]
		}
		sum.PendingRent += amount
		if p.Month != "" {
			months[p.Month] = struct{}{}
		}
	}
	for m := range months {
		sum.PendingMonths = append(sum.PendingMonths, m)
	}
	sort.Strings(sum.PendingMonths)

	for _, c := range snap.Complaints {
		status := c.Status
		if status == "" {
			status = "Open"
		}
		sum.ComplaintsByStatus[status]++
	}
	return sum
}
