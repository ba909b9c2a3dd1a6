package http

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"certnode/internal/domain"
)

// subjectHeader carries an optional caller identity used to split rate limit
// buckets between clients behind one address.
const subjectHeader = "X-Certnode-Subject"

var subjectLimitedRoutes = map[string]bool{
	routeReceiptsCreate: true,
	routeReceiptsImport: true,
	routeVerify:         true,
}

const (
	routeReceiptsCreate = "receipts:create"
	routeReceiptsImport = "receipts:import"
	routeRelationships  = "relationships:create"
	routeVerify         = "envelopes:verify"
)

// rateLimited wraps a write handler with the configured limiter.
func (s *Server) rateLimited(routeID string, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enforceRateLimit(c, routeID) {
			c.Abort()
			return
		}
		next(c)
	}
}

func (s *Server) enforceRateLimit(c *gin.Context, routeID string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := fmt.Sprintf("client:%s:endpoint:%s", c.ClientIP(), routeID)
	subject := c.GetHeader(subjectHeader)
	if s.rateLimitWithSubject && subjectLimitedRoutes[routeID] && subject != "" {
		if s.rateLimitSubjectMax <= 0 || len(subject) <= s.rateLimitSubjectMax {
			if s.rateLimitSubjectHash {
				sum := sha256.Sum256([]byte(subject))
				key = key + ":subject_hash:" + hex.EncodeToString(sum[:])
			} else {
				key = key + ":subject:" + subject
			}
		}
	}

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retry := decision.RetryAfter(time.Now())
			c.Header("Retry-After", strconv.FormatInt(int64(retry/time.Second), 10))
		}
	}
}
