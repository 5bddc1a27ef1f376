package handler

import (
	"relaychat/internal/app/chat"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/limiter"
)

// AppDeps bundles what the HTTP handlers need.
type AppDeps struct {
	Hub            *chat.Hub
	Config         *configs.AppConfig
	Metrics        *chat.Metrics
	ConnectLimiter *limiter.IPRateLimiter
}
