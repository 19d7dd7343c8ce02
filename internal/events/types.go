package events

// Event enumerates the high-level topics published inside the trading core.
type Event string

const (
	EventQuoteUpdate    Event = "quote_update"
	EventBarComplete    Event = "bar_complete"
	EventTickUpdate     Event = "tick_update"
	EventOrderUpdate    Event = "order_update"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderAccepted  Event = "order.accepted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFilled    Event = "order.filled"
	EventPositionChange Event = "position_change"
	EventTradeIntent    Event = "trade_intent"
	EventRiskAlert      Event = "risk_alert"
	EventSentimentReady Event = "sentiment_ready"
	EventStreamClosed   Event = "stream_closed"
	EventReauth         Event = "broker_reauth"
)
