package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"golang.org/x/time/rate"
)

// GuestHandler redeems shareable job tokens for guest bearer tokens. The
// endpoint is unauthenticated, so redemptions are rate limited per client IP.
type GuestHandler struct {
	auth     interfaces.AuthService
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	logger   arbor.ILogger
}

func NewGuestHandler(auth interfaces.AuthService, cfg *common.GuestConfig, logger arbor.ILogger) *GuestHandler {
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	return &GuestHandler{
		auth:     auth,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		logger:   logger,
	}
}

// JobTokenHandler exchanges ?token= for a guest bearer token. An optional
// ?user_id= makes redemption idempotent per device.
func (h *GuestHandler) JobTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	if !h.allow(r) {
		WriteError(w, http.StatusTooManyRequests, "too many token redemptions, slow down")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		WriteError(w, http.StatusBadRequest, "missing token parameter")
		return
	}
	userID := r.URL.Query().Get("user_id")

	bearer, guest, err := h.auth.RedeemJobToken(r.Context(), token, userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("guest", guest.Name).Msg("Job token redeemed")
	WriteJSON(w, http.StatusOK, newTokenResponse(bearer, guest))
}

func (h *GuestHandler) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Allow()
}
