package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveOperationNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(operationsTotal.WithLabelValues("scan", OutcomeSuccess))
	ObserveOperation("scan", -time.Second, "weird")
	assert.Equal(t, before+1, testutil.ToFloat64(operationsTotal.WithLabelValues("scan", OutcomeSuccess)))

	timeouts := testutil.ToFloat64(operationsTotal.WithLabelValues("scan", OutcomeTimeout))
	ObserveOperation("scan", time.Millisecond, OutcomeTimeout)
	assert.Equal(t, timeouts+1, testutil.ToFloat64(operationsTotal.WithLabelValues("scan", OutcomeTimeout)))
}

func TestDomainCounters(t *testing.T) {
	ObserveCorrelation("CHANGE_NO_IMPACT", "")
	assert.GreaterOrEqual(t, testutil.ToFloat64(correlationsTotal.WithLabelValues("CHANGE_NO_IMPACT", "none")), 1.0)

	ObserveIngest("metric", false)
	assert.GreaterOrEqual(t, testutil.ToFloat64(ingestedTotal.WithLabelValues("metric", OutcomeError)), 1.0)

	SetBlastRadius("auth-service", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(blastRadiusAtRisk.WithLabelValues("auth-service")))
}
