package protocol

// Bus topics. Signal workers publish on signals.*; the strategy, risk and
// execution cores wire the trade.* and downstream topics together.
const (
	TopicTicksRaw           = "ticks.raw"
	TopicSignalsTechnical   = "signals.tech"
	TopicSignalsFundamental = "signals.fundamental"
	TopicSignalsSentiment   = "signals.sentiment"
	TopicTradeIntent        = "trade.intent"
	TopicTradeOrder         = "trade.order"
	TopicTradeRejection     = "trade.rejection"
	TopicExecutionReport    = "execution.report"
	TopicPositionUpdate     = "position.update"
)

// Publish priorities per topic (0-9, higher first). Carried as a bus header
// so consumers and operators can see relative urgency.
const (
	PriorityOHLCV     = 5
	PriorityTicker    = 6
	PrioritySignal    = 7
	PriorityIntent    = 8
	PriorityOrder     = 9
	PriorityRejection = 7
	PriorityReport    = 8
	PriorityPosition  = 7
)
