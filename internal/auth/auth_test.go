package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServiceAuthenticate(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeStaticToken, Token: "secret"})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}

	cases := []struct {
		name    string
		header  string
		wantErr error
	}{
		{name: "合法凭证", header: "Bearer secret"},
		{name: "缺少凭证", header: "", wantErr: ErrMissingToken},
		{name: "非 Bearer 格式", header: "Basic secret", wantErr: ErrInvalidToken},
		{name: "凭证错误", header: "Bearer wrong", wantErr: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authenticate(tc.header)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("认证失败: %v", err)
			}
			if tc.wantErr != nil && err != tc.wantErr {
				t.Fatalf("期望 %v，得到 %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewServiceRequiresTokenInStaticMode(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeStaticToken}); err == nil {
		t.Fatal("期望静态模式缺少 Token 时报错")
	}
}

func TestMiddlewareRejectsBeforeHandler(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeStaticToken, Token: "secret"})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}

	reached := false
	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("期望 401，得到 %d", rec.Code)
	}
	if reached {
		t.Fatal("未认证的请求不应触达业务处理器")
	}
}

func TestMiddlewareDisabledModePassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}

	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reserve", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("期望放行，得到 %d", rec.Code)
	}
}
