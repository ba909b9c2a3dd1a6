package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certnode/internal/domain"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()
	r.ReceiptCreated(domain.DomainContent)
	r.ReceiptCreated(domain.DomainContent)
	r.LinkResult(domain.RelationCauses, "cycle")
	r.VerificationResult(domain.ReasonNone, false)
	r.VerificationResult(domain.ReasonHashMismatch, true)
	r.PatternMatches("undelivered_content", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.receipts.WithLabelValues("content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.links.WithLabelValues("causes", "cycle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verifications.WithLabelValues("VALID", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verifications.WithLabelValues("HASH_MISMATCH", "true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.patterns.WithLabelValues("undelivered_content")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ReceiptCreated(domain.DomainTransaction)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `certnode_receipts_created_total{domain="transaction"} 1`))
}
