package auth

import (
	"net/http"

	loggerpkg "GasWarden/pkg/logger"
)

// Middleware 返回一个 HTTP 中间件，在读取任何业务状态之前完成认证。
// 拒绝的访问写入审计日志。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			if err := s.Authenticate(r.Header.Get("Authorization")); err != nil {
				status := http.StatusUnauthorized
				http.Error(w, http.StatusText(status), status)
				logger := s.audit
				if logger == nil {
					logger = loggerpkg.Audit()
				}
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
