package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/danmuck/dmftctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(iterations.WithLabelValues("hartree-fock"))
	RecordIteration("hartree-fock", 0.25)
	RecordPhase("solve", 12*time.Millisecond)
	RecordSolve("hartree-fock", 0, 3*time.Millisecond)
	RecordCheckpointWrite("sigma_iw", true)
	RecordResidual(1e-3)

	assert.Equal(t, before+1, testutil.ToFloat64(iterations.WithLabelValues("hartree-fock")))
	assert.Equal(t, 0.25, testutil.ToFloat64(chemicalPotential))
	assert.Equal(t, 1e-3, testutil.ToFloat64(sigmaResidual))
}

func TestSpansWithoutProviderAreNoop(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "dmft.iteration", attribute.Int("iteration", 1))
	require.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
	EndSpan(span, nil)
}

func TestReportOnlyOnCoordinator(t *testing.T) {
	testlog.Start(t)
	w := parallel.NewWorld(2)
	coord := RankLogger(w.Comm(0))
	worker := RankLogger(w.Comm(1))
	assert.NotNil(t, Report(w.Comm(0), &coord))
	assert.Nil(t, Report(w.Comm(1), &worker))
	// zerolog events are nil-safe
	Report(w.Comm(1), &worker).Msg("skipped")
}
