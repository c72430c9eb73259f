package model

// Stage is the user visible position of a transaction in its lifecycle.
type Stage string

const (
	StageInitiated            Stage = "INITIATED"
	StageCryptoCalculated     Stage = "CRYPTO_CALCULATED"
	StageSigning              Stage = "SIGNING"
	StageSwapInitiated        Stage = "SWAP_INITIATED"
	StageSwapConfirmed        Stage = "SWAP_CONFIRMED"
	StageSettlementProcessing Stage = "SETTLEMENT_PROCESSING"
	StageSettlementPending    Stage = "SETTLEMENT_PENDING"
	StageBankTransferStarted  Stage = "BANK_TRANSFER_INITIATED"
	StageCompleted            Stage = "COMPLETED"
	StageFailed               Stage = "FAILED"
	StageCancelled            Stage = "CANCELLED"
)

// Checkpoint percentages reported with each progress entry.
const (
	PercentInitiated         = 5
	PercentCryptoCalculated  = 15
	PercentBuilding          = 25
	PercentSigned            = 30
	PercentSwapInitiated     = 40
	PercentSwapConfirmed     = 50
	PercentCryptoReceived    = 60
	PercentRecipientPrepared = 65
	PercentAwaitingPayout    = 75
	PercentFiatConverted     = 80
	PercentPayoutInitiated   = 85
	PercentPayoutConfirmed   = 90
	PercentCompleted         = 100
)

var stageOrder = map[Stage]int{
	StageInitiated:            1,
	StageCryptoCalculated:     2,
	StageSigning:              3,
	StageSwapInitiated:        4,
	StageSwapConfirmed:        5,
	StageSettlementProcessing: 6,
	StageSettlementPending:    7,
	StageBankTransferStarted:  8,
	StageCompleted:            9,
	StageFailed:               100,
	StageCancelled:            100,
}

// Order is the position of the stage in the forward path. Unknown stages return 0.
func (s Stage) Order() int {
	return stageOrder[s]
}

func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Cancellable reports whether funds are still untouched: nothing has been submitted on chain yet.
func (s Stage) Cancellable() bool {
	return !s.IsTerminal() && s.Order() < StageSwapInitiated.Order()
}

// SettlementStatus tracks the off-chain payout of a transaction once funds are on chain.
type SettlementStatus string

const (
	SettlementAwaitingChain  SettlementStatus = "awaiting_chain"
	SettlementScheduled      SettlementStatus = "scheduled"
	SettlementPending        SettlementStatus = "pending"
	SettlementCryptoReceived SettlementStatus = "crypto_received"
	SettlementFiatProcessing SettlementStatus = "fiat_processing"
	SettlementFiatSent       SettlementStatus = "fiat_sent"
	SettlementCompleted      SettlementStatus = "completed"
	SettlementFailed         SettlementStatus = "failed"
	SettlementCancelled      SettlementStatus = "cancelled"
)

// SettlementStatuses lists every status, in pipeline order.
var SettlementStatuses = []SettlementStatus{
	SettlementAwaitingChain,
	SettlementScheduled,
	SettlementPending,
	SettlementCryptoReceived,
	SettlementFiatProcessing,
	SettlementFiatSent,
	SettlementCompleted,
	SettlementFailed,
	SettlementCancelled,
}

func (s SettlementStatus) IsTerminal() bool {
	return s == SettlementCompleted || s == SettlementFailed || s == SettlementCancelled
}

func (s SettlementStatus) Valid() bool {
	for _, v := range SettlementStatuses {
		if v == s {
			return true
		}
	}
	return false
}
