package auth

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	xerrors "GasWarden/internal/errors"
	loggerpkg "GasWarden/pkg/logger"
)

// Mode 表示认证模式。
type Mode string

const (
	// ModeDisabled 关闭认证，仅用于本地开发。
	ModeDisabled Mode = "disabled"
	// ModeStaticToken 使用配置中的静态 Bearer Token。
	ModeStaticToken Mode = "static_token"
)

// 认证错误。缺失与非法凭证都在读取任何业务状态之前被拒绝。
var (
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthenticated, "缺少访问凭证")
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthenticated, "访问凭证无效")
)

// Config 描述认证服务的配置。
type Config struct {
	Mode  Mode
	Token string
}

// Service 校验外部触发调用携带的凭证。
type Service struct {
	mode  Mode
	token string
	audit *slog.Logger
}

// NewService 创建认证服务。静态模式下缺少 Token 视为配置错误。
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeStaticToken
	}
	switch mode {
	case ModeDisabled:
		return &Service{mode: mode, audit: loggerpkg.Audit()}, nil
	case ModeStaticToken:
		token := strings.TrimSpace(cfg.Token)
		if token == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "静态认证模式缺少 Token")
		}
		return &Service{mode: mode, token: token, audit: loggerpkg.Audit()}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的认证模式: "+string(mode))
	}
}

// Authenticate 校验 Authorization 头。
func (s *Service) Authenticate(header string) error {
	if s == nil || s.mode == ModeDisabled {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ErrInvalidToken
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
