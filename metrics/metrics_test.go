package metrics

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTransactionsInitiated("bank_transfer")
		m.IncStageTransition("INITIATED")
		m.IncSponsorshipDecision("4202", true)
		m.IncRelaySubmission("ok")
		m.IncSettlementSweep()
		m.IncSettlementPayout("completed")
		m.ObserveSweepDuration(time.Second)
		m.AddUptime(1)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncStageTransition("SIGNING")
	m.IncStageTransition("SIGNING")
	m.IncSponsorshipDecision("4202", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.stageTransitions.WithLabelValues("SIGNING")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sponsorshipDecisions.WithLabelValues("4202", "false")))
}

type depositFunc func(ctx context.Context) (*big.Int, error)

func (f depositFunc) SponsorDeposit(ctx context.Context) (*big.Int, error) { return f(ctx) }

func TestSponsorDepositCollector(t *testing.T) {
	twoEth := new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))
	c := NewSponsorDepositCollector(map[int64]DepositReader{
		4202: depositFunc(func(context.Context) (*big.Int, error) { return twoEth, nil }),
		1135: depositFunc(func(context.Context) (*big.Int, error) { return nil, errors.New("rpc down") }),
	}, logger.NewNoOpLogger())

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 1, testutil.CollectAndCount(c))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.(*SponsorDepositCollector).deposit.WithLabelValues("4202")))
}
