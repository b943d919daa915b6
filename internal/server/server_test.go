// Integration tests for the BudgetService gRPC server
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nainya/budgetstore/internal/logger"
	"github.com/nainya/budgetstore/internal/metrics"
	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/engine"
	"github.com/nainya/budgetstore/pkg/journal"
	"github.com/nainya/budgetstore/pkg/money"
	"github.com/nainya/budgetstore/pkg/reconstruct"
	"github.com/nainya/budgetstore/pkg/session"
	"github.com/nainya/budgetstore/pkg/storage"
	"github.com/nainya/budgetstore/pkg/version"
)

const bufSize = 1024 * 1024

func setupTestServer(t *testing.T) (*Client, *prometheus.Registry, func()) {
	kv := &storage.KV{InMemory: true}
	if err := kv.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	j := &journal.Journal{Path: filepath.Join(t.TempDir(), "audit.journal")}
	if err := j.Open(); err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	eng, err := engine.New(engine.Deps{KV: kv, Journal: j, Metrics: m})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	// Create a new listener for this test
	lis := bufconn.Listen(bufSize)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(GrpcMetricsInterceptor(m, logger.Nop())))
	NewServer(eng, nil).Register(grpcServer)

	go func() {
		// Serve returns once the listener is closed during cleanup
		_ = grpcServer.Serve(lis)
	}()

	bufDialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufnet: %v", err)
	}

	cleanup := func() {
		conn.Close()
		grpcServer.Stop()
		lis.Close()
		j.Close()
		kv.Close()
	}

	return NewClient(conn), reg, cleanup
}

func createTestBudget(t *testing.T, client *Client, id string) *budget.Budget {
	var b budget.Budget
	err := client.Call(context.Background(), "CreateBudget", engine.CreateBudgetRequest{
		ID:       id,
		ClientID: "client-7",
		Items: []budget.Item{
			{ID: "i1", ProviderRef: "AIR-1", Category: "flight", Price: money.MustParse("1000"), Cost: money.MustParse("800"), Quantity: 1},
			{ID: "i2", ProviderRef: "HTL-1", Category: "hotel", Price: money.MustParse("500"), Cost: money.MustParse("400"), Quantity: 1},
		},
		Author: "ana",
	}, &b)
	if err != nil {
		t.Fatalf("Failed to create budget: %v", err)
	}
	return &b
}

func expectCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", want)
	}
	if got := status.Code(err); got != want {
		t.Errorf("Expected code %s, got %s (%v)", want, got, err)
	}
}

func TestCreateAndGetBudget(t *testing.T) {
	client, _, cleanup := setupTestServer(t)
	defer cleanup()

	created := createTestBudget(t, client, "B1")
	if created.CurrentVersion != 1 {
		t.Errorf("Expected current version 1, got %d", created.CurrentVersion)
	}

	var got budget.Budget
	if err := client.Call(context.Background(), "GetBudget", BudgetRequest{BudgetID: "B1"}, &got); err != nil {
		t.Fatalf("Failed to get budget: %v", err)
	}
	if len(got.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(got.Items))
	}
	if money.String(got.Items[0].Price) != "1000.00" {
		t.Errorf("Expected price 1000.00, got %s", money.String(got.Items[0].Price))
	}
	if got.Status != budget.StatusDraft {
		t.Errorf("Expected status draft, got %s", got.Status)
	}

	var list BudgetList
	if err := client.Call(context.Background(), "ListClientBudgets", ClientRequest{ClientID: "client-7"}, &list); err != nil {
		t.Fatalf("Failed to list budgets: %v", err)
	}
	if len(list.Budgets) != 1 {
		t.Errorf("Expected 1 budget for client, got %d", len(list.Budgets))
	}
}

func TestReconstructBudget(t *testing.T) {
	client, _, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	createTestBudget(t, client, "B1")

	var resp engine.ReconstructResponse
	err := client.Call(ctx, "ReconstructBudget", engine.ReconstructRequest{
		BudgetID: "B1",
		Changes: map[string]reconstruct.ProviderChange{
			"i1": {CostChange: money.MustParse("100")},
		},
		Strategy: string(reconstruct.PreserveMargin),
		Author:   "ana",
	}, &resp)
	if err != nil {
		t.Fatalf("Failed to reconstruct: %v", err)
	}
	if resp.Version == nil || resp.Version.ID != "B1_v2" {
		t.Fatalf("Expected version B1_v2, got %+v", resp.Version)
	}

	var history HistoryResponse
	if err := client.Call(ctx, "ReconstructionHistory", BudgetRequest{BudgetID: "B1"}, &history); err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history.Entries) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history.Entries))
	}

	var graph version.VersionGraph
	if err := client.Call(ctx, "GetVersionGraph", BudgetRequest{BudgetID: "B1"}, &graph); err != nil {
		t.Fatalf("Failed to get graph: %v", err)
	}
	if len(graph.Nodes) != 2 || len(graph.Edges) != 1 {
		t.Errorf("Expected 2 nodes and 1 edge, got %d and %d", len(graph.Nodes), len(graph.Edges))
	}
}

func TestSessionOverGrpc(t *testing.T) {
	client, _, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	createTestBudget(t, client, "B1")

	var sess session.Session
	if err := client.Call(ctx, "StartSession", SessionRequest{BudgetID: "B1", SellerID: "ana"}, &sess); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	var ack Ack
	err := client.Call(ctx, "LockSessionData", SessionDataRequest{
		BudgetID: "B1",
		SellerID: "ana",
		Data:     map[string]any{"packages.i1.price": "1000.00"},
	}, &ack)
	if err != nil || !ack.Success {
		t.Fatalf("Failed to lock data: %v", err)
	}

	err = client.Call(ctx, "CloseSession", SessionRequest{BudgetID: "B1", SellerID: "bob"}, nil)
	expectCode(t, err, codes.PermissionDenied)

	var current session.Session
	if err := client.Call(ctx, "GetSession", SessionRequest{BudgetID: "B1"}, &current); err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if _, ok := current.LockedData["packages.i1.price"]; !ok {
		t.Errorf("Expected locked price, got %v", current.LockedData)
	}
}

func TestErrorCodes(t *testing.T) {
	client, _, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	createTestBudget(t, client, "B1")

	err := client.Call(ctx, "GetBudget", BudgetRequest{BudgetID: "missing"}, nil)
	expectCode(t, err, codes.NotFound)

	err = client.Call(ctx, "CreateBudget", engine.CreateBudgetRequest{ClientID: "c"}, nil)
	expectCode(t, err, codes.InvalidArgument)

	err = client.Call(ctx, "TransitionBudget", engine.TransitionRequest{
		BudgetID: "B1",
		Status:   budget.StatusApproved,
		Author:   "ana",
	}, nil)
	expectCode(t, err, codes.FailedPrecondition)

	err = client.Call(ctx, "GetBudget", map[string]any{"budget": "B1"}, nil)
	expectCode(t, err, codes.InvalidArgument)
}

func TestHealth(t *testing.T) {
	client, _, cleanup := setupTestServer(t)
	defer cleanup()

	var resp HealthResponse
	if err := client.Call(context.Background(), "Health", struct{}{}, &resp); err != nil {
		t.Fatalf("Failed to call health: %v", err)
	}
	if !resp.Healthy {
		t.Error("Expected healthy server")
	}
}

func TestInterceptorRecordsCodes(t *testing.T) {
	client, reg, cleanup := setupTestServer(t)
	defer cleanup()

	_ = client.Call(context.Background(), "GetBudget", BudgetRequest{BudgetID: "missing"}, nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() != "budgetstore_grpc_requests_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" && lp.GetValue() == codes.NotFound.String() {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("Expected a NotFound sample in budgetstore_grpc_requests_total")
	}
}

func TestObservabilityEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewMetrics(reg).RecordFeedUpdate(nil)
	var ready atomic.Bool
	obs := NewObservabilityServer(0, reg, ready.Load, logger.Nop())

	srv := httptest.NewServer(obs.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("Failed to GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := get("/health"); code != http.StatusOK || !strings.Contains(body, "budgetstore") {
		t.Errorf("Expected healthy budgetstore, got %d %s", code, body)
	}
	if code, _ := get("/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before ready, got %d", code)
	}
	ready.Store(true)
	if code, _ := get("/ready"); code != http.StatusOK {
		t.Errorf("Expected 200 once ready, got %d", code)
	}
	if _, body := get("/metrics"); !strings.Contains(body, "budgetstore_feed_updates_total") {
		t.Errorf("Expected feed metric in /metrics output")
	}
}
