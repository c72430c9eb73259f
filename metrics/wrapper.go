package metrics

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Layr-Labs/eigensdk-go/logging"
)

type MetricsOnlyLogger struct {
	logging.Logger
}

func (l *MetricsOnlyLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error(fmt.Sprintf("[METRICS ONLY] %s", msg), keysAndValues...)
}

func (l *MetricsOnlyLogger) Errorf(format string, args ...interface{}) {
	l.Logger.Errorf("[METRICS ONLY] "+format, args...)
}

// DepositReader reads the sponsor deposit of one chain.
type DepositReader interface {
	SponsorDeposit(ctx context.Context) (*big.Int, error)
}

// SponsorDepositCollector reports sponsor deposits at scrape time.
type SponsorDepositCollector struct {
	readers map[int64]DepositReader
	logger  logging.Logger
	timeout time.Duration

	deposit *prometheus.GaugeVec
}

func NewSponsorDepositCollector(readers map[int64]DepositReader, logger logging.Logger) prometheus.Collector {
	return &SponsorDepositCollector{
		readers: readers,
		logger:  &MetricsOnlyLogger{Logger: logger},
		timeout: 5 * time.Second,
		deposit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cppayNamespace,
				Subsystem: "sponsorship",
				Name:      "sponsor_deposit_eth",
				Help:      "Sponsor contract deposit in ETH",
			},
			[]string{"chain"},
		),
	}
}

func (c *SponsorDepositCollector) Describe(ch chan<- *prometheus.Desc) {
	c.deposit.Describe(ch)
}

func (c *SponsorDepositCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for chainID, reader := range c.readers {
		deposit, err := reader.SponsorDeposit(ctx)
		if err != nil {
			c.logger.Error("cannot read sponsor deposit", "chain", chainID, "error", err)
			continue
		}
		c.deposit.WithLabelValues(strconv.FormatInt(chainID, 10)).Set(weiToEth(deposit))
	}

	c.deposit.Collect(ch)
}

func weiToEth(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}
