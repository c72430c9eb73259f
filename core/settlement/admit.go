package settlement

import (
	"time"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

// Admit hands a record whose funds are confirmed on chain to the processor. Scheduled payouts wait
// for their execution time, everything else waits for the confirmation delay.
func Admit(rec *model.TransactionRecord, now time.Time) {
	if s := rec.Detail.Scheduled; s != nil && !s.Closed {
		if s.NextExecution.IsZero() {
			s.NextExecution = s.ExecuteAt
		}
		if s.Occurrence == 0 {
			s.Occurrence = 1
		}
		rec.SetSettlement(model.SettlementScheduled, now)
		return
	}
	rec.SetSettlement(model.SettlementPending, now)
}
