package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"affiliate-ledger/internal/app"
	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/repositories/memory"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/internal/utils"
	"affiliate-ledger/pkg/logger"

	"github.com/shopspring/decimal"
)

func memoryEnv() *env {
	return &env{
		cfg:     &config.Config{},
		log:     logger.Discard(),
		backend: &app.Backend{Driver: config.StoreDriverMemory, Store: memory.NewStore()},
	}
}

func TestSeedVendors(t *testing.T) {
	ctx := context.Background()
	e := memoryEnv()
	vendors := []*models.Vendor{
		{ID: "v1", CommissionType: models.CommissionTypePercentage, CommissionValue: decimal.NewFromInt(10), IsActive: true},
		{ID: "v2", CommissionType: models.CommissionTypeFixed, CommissionValue: decimal.RequireFromString("2.50")},
	}

	var out bytes.Buffer
	if err := seedVendors(ctx, &out, e.backend.Store.Vendors(), vendors); err != nil {
		t.Fatalf("seedVendors: %v", err)
	}
	if got := strings.Count(out.String(), "saved "); got != 2 {
		t.Fatalf("output %q, want 2 saved lines", out.String())
	}
	v, err := e.backend.Store.Vendors().GetByID(ctx, "v2")
	if err != nil || !v.CommissionValue.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("v2 = %+v, %v", v, err)
	}
}

func TestSeedVendorsValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	e := memoryEnv()
	vendors := []*models.Vendor{
		{ID: "ok", CommissionType: models.CommissionTypeFixed, CommissionValue: decimal.NewFromInt(1)},
		{ID: "bad", CommissionType: models.CommissionTypeFixed, CommissionValue: decimal.NewFromInt(-1)},
	}

	if err := seedVendors(ctx, &bytes.Buffer{}, e.backend.Store.Vendors(), vendors); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := e.backend.Store.Vendors().GetByID(ctx, "ok"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("vendor written despite invalid file: %v", err)
	}
}

func TestSeedVendorsDryRun(t *testing.T) {
	var out bytes.Buffer
	vendors := []*models.Vendor{{ID: "v1", CommissionType: models.CommissionTypeFixed, CommissionValue: decimal.NewFromInt(1)}}
	if err := seedVendors(context.Background(), &out, nil, vendors); err != nil {
		t.Fatalf("seedVendors: %v", err)
	}
	if out.String() != "1 vendors valid\n" {
		t.Fatalf("output %q", out.String())
	}
}

func deadTask(t *testing.T, outbox interfaces.OutboxRepository, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	task := &models.OutboxTask{
		ID:          id,
		Kind:        models.TaskCalculateCommission,
		AggregateID: "conv-" + id,
		Status:      models.OutboxStatusPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := outbox.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := outbox.Fail(ctx, id, "store down", now, true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
}

func TestOutboxListAndRetry(t *testing.T) {
	ctx := context.Background()
	e := memoryEnv()
	deadTask(t, e.backend.Store.Outbox(), "t1")
	deadTask(t, e.backend.Store.Outbox(), "t2")
	svc := adminService(e)

	var out bytes.Buffer
	if err := listOutbox(ctx, &out, svc, models.OutboxStatusDead, 10); err != nil {
		t.Fatalf("listOutbox: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") || !strings.Contains(out.String(), "store down") {
		t.Fatalf("list output:\n%s", out.String())
	}

	out.Reset()
	if err := retryOutbox(ctx, &out, svc, []string{"t1"}); err != nil {
		t.Fatalf("retryOutbox: %v", err)
	}
	task, err := e.backend.Store.Outbox().GetByID(ctx, "t1")
	if err != nil || task.Status != models.OutboxStatusPending || task.Attempts != 0 {
		t.Fatalf("t1 after retry = %+v, %v", task, err)
	}

	if err := retryOutbox(ctx, &out, svc, []string{"t1"}); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("retrying a pending task: err = %v, want ErrNotFound", err)
	}
	if err := listOutbox(ctx, &out, svc, "bogus", 10); !errors.Is(err, services.ErrInvalidEvent) {
		t.Fatalf("bogus status: err = %v", err)
	}
}

func TestMintToken(t *testing.T) {
	security := &config.SecurityConfig{JWTSecret: "cli-secret", AdminRole: "admin"}

	var out bytes.Buffer
	if err := mintToken(&out, security, "ops@example.com", time.Hour); err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	claims, err := utils.ValidateToken(strings.TrimSpace(out.String()), "cli-secret")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops@example.com" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}

	if err := mintToken(&out, &config.SecurityConfig{AdminRole: "admin"}, "x", time.Hour); err == nil {
		t.Fatal("expected error without secret")
	}
	if err := mintToken(&out, security, "x", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestRunMigrateMemory(t *testing.T) {
	var out bytes.Buffer
	if err := runMigrate(context.Background(), &out, memoryEnv().backend, -1); err != nil {
		t.Fatalf("runMigrate: %v", err)
	}
	if out.String() != "memory store is up to date\n" {
		t.Fatalf("output %q", out.String())
	}
	if err := runMigrate(context.Background(), &out, memoryEnv().backend, 0); err == nil {
		t.Fatal("expected rollback on the memory store to fail")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"migrate"}, {"seed"}, {"outbox", "list"}, {"outbox", "retry"}, {"token"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
