package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"GasWarden/internal/auth"
	"GasWarden/internal/budget"
	"GasWarden/internal/delegation"
	"GasWarden/internal/reserve"
	"GasWarden/internal/store"
	"GasWarden/internal/trigger"
)

type stubProducer struct {
	published []string
}

func (p *stubProducer) Publish(_ context.Context, payload string) error {
	p.published = append(p.published, payload)
	return nil
}

func (p *stubProducer) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *stubProducer, *reserve.Manager, *delegation.MemoryRepository) {
	t.Helper()
	st := store.NewMemoryStore()
	manager := reserve.NewManager(st)
	allocator := budget.NewAllocator(st, budget.Config{})
	repo := delegation.NewMemoryRepository()
	producer := &stubProducer{}
	server := NewServer("", nil, producer, manager, allocator, delegation.NewLedger(repo))
	return server, producer, manager, repo
}

func TestHandleCyclesAcceptsValidTrigger(t *testing.T) {
	server, producer, _, _ := newTestServer(t)

	body := `{"chain_id": 8453, "event": "sponsorship_request", "data": {"delegation_id": "d-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("期望 202，得到 %d: %s", rec.Code, rec.Body.String())
	}
	if len(producer.published) != 1 {
		t.Fatalf("触发事件未入队: %d", len(producer.published))
	}
	payload, err := trigger.Decode(producer.published[0])
	if err != nil {
		t.Fatalf("入队消息不可解析: %v", err)
	}
	if payload.Source != trigger.SourceWebhook || payload.Event != "sponsorship_request" {
		t.Fatalf("入队消息内容不符: %+v", payload)
	}
}

func TestHandleCyclesRejectsInvalidTrigger(t *testing.T) {
	server, producer, _, _ := newTestServer(t)

	cases := []string{
		`{"chain_id": -1, "event": "x"}`,
		`{"chain_id": 1, "event": ""}`,
		`not-json`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q 期望 400，得到 %d", body, rec.Code)
		}
	}
	if len(producer.published) != 0 {
		t.Fatal("非法触发不应入队")
	}
}

func TestHandleReserve(t *testing.T) {
	server, _, manager, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reserve", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("快照缺失时期望 404，得到 %d", rec.Code)
	}

	eth := 2.5
	if _, err := manager.Update(context.Background(), reserve.Update{ETHBalance: &eth}); err != nil {
		t.Fatalf("创建储备快照失败: %v", err)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reserve", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200，得到 %d", rec.Code)
	}
	var state reserve.State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if state.ETHBalance != 2.5 {
		t.Fatalf("储备快照内容不符: %+v", state)
	}
}

func TestHandleUsageStatsDegradesWithoutAllocator(t *testing.T) {
	st := store.NewMemoryStore()
	manager := reserve.NewManager(st)
	server := NewServer("", nil, &stubProducer{}, manager, nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage-stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200，得到 %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if available, _ := body["available"].(bool); available {
		t.Fatal("未配置预算后端时应报告不可用")
	}
}

func TestHandleDelegationUsage(t *testing.T) {
	server, _, _, repo := newTestServer(t)
	if err := repo.Create(context.Background(), &delegation.Record{
		ID: "d-1", Delegator: "0xa", Agent: "0xb", GasBudget: 1000, GasBudgetRemaining: 1000,
	}); err != nil {
		t.Fatalf("创建委托失败: %v", err)
	}

	cases := []struct {
		name   string
		target string
		status int
	}{
		{name: "默认分页", target: "/api/v1/delegations/d-1/usage", status: http.StatusOK},
		{name: "显式分页", target: "/api/v1/delegations/d-1/usage?limit=100&offset=0", status: http.StatusOK},
		{name: "limit 为零", target: "/api/v1/delegations/d-1/usage?limit=0", status: http.StatusBadRequest},
		{name: "limit 越界", target: "/api/v1/delegations/d-1/usage?limit=101", status: http.StatusBadRequest},
		{name: "offset 为负", target: "/api/v1/delegations/d-1/usage?offset=-1", status: http.StatusBadRequest},
		{name: "limit 非数字", target: "/api/v1/delegations/d-1/usage?limit=abc", status: http.StatusBadRequest},
		{name: "未知委托", target: "/api/v1/delegations/missing/usage", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.status {
				t.Fatalf("期望 %d，得到 %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/delegations/d-1/usage", nil))
	var page delegation.UsagePage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if page.Limit != delegation.DefaultLimit || page.Offset != delegation.DefaultOffset {
		t.Fatalf("分页回显不符: %+v", page)
	}
}

func TestAuthGuardsAllEndpoints(t *testing.T) {
	st := store.NewMemoryStore()
	manager := reserve.NewManager(st)
	authSvc, err := auth.NewService(auth.Config{Mode: auth.ModeStaticToken, Token: "secret"})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}
	server := NewServer("", authSvc, &stubProducer{}, manager, nil, nil)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reserve", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("无凭证访问期望 401，得到 %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/usage-stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("合法凭证期望 200，得到 %d", rec.Code)
	}
}
