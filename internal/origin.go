package internal

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy 來源檢查
//
// "*" 允許所有來源。沒有 Origin 標頭的請求（非瀏覽器客戶端）一律允許。
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy 建立來源檢查，無效的來源會被忽略
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(trimmed); ok {
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

// AllowAll 是否允許所有來源
func (p *OriginPolicy) AllowAll() bool {
	return p.allowAll
}

// AllowedOrigin 檢查單一 Origin 值
func (p *OriginPolicy) AllowedOrigin(origin string) bool {
	if p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// Allowed 供 websocket.Upgrader.CheckOrigin 使用
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return p.AllowedOrigin(origin)
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
