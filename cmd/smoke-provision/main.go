package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/dashboard"
	"pgmanage.org/internal/provision"
	"pgmanage.org/internal/session"
)

func main() {
	base := os.Getenv("PGM_BACKEND_URL")
	if base == "" {
		base = "http://localhost:8000"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	anon, err := backend.New(base, backend.WithTimeout(10*time.Second))
	if err != nil {
		log.Fatalf("backend client: %v", err)
	}
	rooms, err := anon.ListRooms(ctx)
	if err != nil {
		log.Fatalf("list rooms: %v", err)
	}
	free := dashboard.AvailableRooms(rooms)
	if len(free) == 0 {
		log.Fatal("no available room to provision into")
	}

	suffix := rand.Int63n(1_000_000_000)
	req := provision.Request{
		Name:            fmt.Sprintf("Smoke %d", suffix),
		Email:           fmt.Sprintf("smoke-%d@example.com", suffix),
		Phone:           "9000000000",
		RoomID:          free[0].ID,
		Password:        "smoke-pass",
		PasswordConfirm: "smoke-pass",
	}

	codec, err := session.NewCodec([]byte("smoke-test-secret-not-for-prod"), time.Hour)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	mgr := session.NewManager(codec, session.NewMemoryStore())
	binding := session.Binding{Manager: mgr, ID: "smoke"}

	client, err := backend.New(base, backend.WithTimeout(10*time.Second))
	if err != nil {
		log.Fatalf("backend client: %v", err)
	}
	s, err := provision.New(client, provision.WithSink(binding)).Provision(ctx, req)
	if err != nil {
		log.Fatalf("provision: %v (%s)", err, provision.Advice(provision.KindOf(err)))
	}

	stored, err := mgr.Load(ctx, binding.ID)
	if err != nil {
		log.Fatalf("load session: %v", err)
	}
	if stored.UserID != s.UserID || stored.Email != req.Email || stored.Role != session.RoleTenant {
		log.Fatalf("stored session mismatch: %+v vs %+v", stored, s)
	}
	if s.TenantID == 0 {
		log.Fatalf("tenant record not linked for user %d", s.UserID)
	}

	// A second attempt with the same email must be rejected as a duplicate.
	again, err := backend.New(base, backend.WithTimeout(10*time.Second))
	if err != nil {
		log.Fatalf("backend client: %v", err)
	}
	if len(free) > 1 {
		req.RoomID = free[1].ID
	}
	_, err = provision.New(again).Provision(ctx, req)
	if provision.KindOf(err) != provision.KindDuplicateAccount {
		log.Fatalf("expected duplicate_account on second attempt, got %v", err)
	}

	fmt.Printf("✅ provisioning smoke test passed: user=%d tenant=%d email=%s\n", s.UserID, s.TenantID, s.Email)
}
