package state

var (
	accrualIndexPrefix      = []byte("accrual/index/")
	accrualBufferPrefix     = []byte("accrual/buffer/")
	accrualPositionPrefix   = []byte("accrual/position/")
	accrualOwnerIndexPrefix = []byte("accrual/owner/")
	accrualAggregatePrefix  = []byte("accrual/aggregate/")
	accrualTierScheduleKey  = []byte("accrual/tiers")
	accrualTotalsKey        = []byte("accrual/totals")
	essenceCheckpointPrefix = []byte("essence/checkpoint/")
	essenceCountPrefix      = []byte("essence/count/")
)

var (
	pendingTransferPrefix = []byte("outbox/pending/batch/")
	pendingHeadKey        = []byte("outbox/pending/head")
	pendingTailKey        = []byte("outbox/pending/tail")
)
