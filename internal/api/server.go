package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"time"

	"GasWarden/internal/auth"
	"GasWarden/internal/budget"
	"GasWarden/internal/delegation"
	xerrors "GasWarden/internal/errors"
	"GasWarden/internal/reserve"
	"GasWarden/internal/trigger"
)

// Server 暴露 REST 接口：接收外部触发、查询储备与用量。
type Server struct {
	addr      string
	authSvc   *auth.Service
	producer  trigger.Producer
	reserves  *reserve.Manager
	allocator *budget.Allocator
	ledger    *delegation.Ledger
}

// NewServer 构造 API 服务实例。
func NewServer(
	addr string,
	authSvc *auth.Service,
	producer trigger.Producer,
	reserves *reserve.Manager,
	allocator *budget.Allocator,
	ledger *delegation.Ledger,
) *Server {
	return &Server{
		addr:      addr,
		authSvc:   authSvc,
		producer:  producer,
		reserves:  reserves,
		allocator: allocator,
		ledger:    ledger,
	}
}

// Handler 组装路由与认证中间件。认证在任何业务状态被读取之前完成。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/cycles", s.handleCycles)
	mux.HandleFunc("/api/v1/reserve", s.handleReserve)
	mux.HandleFunc("/api/v1/usage-stats", s.handleUsageStats)
	mux.HandleFunc("/api/v1/delegations/{id}/usage", s.handleDelegationUsage)

	if s.authSvc != nil {
		return s.authSvc.Middleware()(mux)
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleCycles 接收外部触发并投递到触发队列，由消费循环驱动代理周期。
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.producer == nil {
		http.Error(w, "触发队列未初始化", http.StatusServiceUnavailable)
		return
	}

	var payload trigger.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if payload.Source == "" {
		payload.Source = trigger.SourceWebhook
	}
	payload.ReceivedAt = time.Now().UTC()
	if err := payload.Validate(); err != nil {
		writeError(w, err)
		return
	}

	raw, err := trigger.Encode(payload)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.producer.Publish(r.Context(), raw); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "投递触发事件失败"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// handleReserve 返回当前储备快照，快照不存在时返回 404。
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.reserves == nil {
		http.Error(w, "储备管理器未初始化", http.StatusServiceUnavailable)
		return
	}

	state, err := s.reserves.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if state == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "储备快照尚未创建"))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleUsageStats 返回当前月份的配额用量。未配置预算后端时
// 降级为 available=false，而不是报错。
func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.allocator == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}

	stats, err := s.allocator.UsageStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true, "stats": stats})
}

// handleDelegationUsage 返回指定委托的分页用量。
// limit/offset 非数字或越界直接拒绝为 400。
func (s *Server) handleDelegationUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "委托账本未初始化", http.StatusServiceUnavailable)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := s.ledger.GetUsage(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// queryInt 解析可选的整数查询参数，缺省返回 nil。
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, name+" 必须是整数")
	}
	return &value, nil
}

// writeJSON 输出 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 将错误码映射为 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, delegation.CodeDelegationNotFound:
		status = http.StatusNotFound
	case xerrors.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case xerrors.CodeEmergencyHalt, delegation.CodeDelegationConflict:
		status = http.StatusConflict
	case xerrors.CodeBudgetExhausted, delegation.CodeGasBudgetExceeded:
		status = http.StatusTooManyRequests
	case xerrors.CodeUpstreamUnavailable, xerrors.CodeStorageFailure:
		status = http.StatusServiceUnavailable
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeJSON(w, status, map[string]string{
		"code":    string(xerrors.CodeOf(err)),
		"message": message,
	})
}
