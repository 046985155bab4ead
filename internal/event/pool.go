package event

import (
	"sync"
)

// exchangePool provides sync.Pool for high-frequency exchange requests.
// Use this to reduce GC pressure in the hotpath.
//
// Usage:
//
//	ev := AcquireExchangeEvent()
//	ev.Requester = "alice"
//	ev.Amount = 500
//	// ... submit and wait for the result ...
//	ReleaseExchangeEvent(ev) // Return to pool after the reply arrived
var exchangePool = sync.Pool{
	New: func() interface{} {
		return &ExchangeEvent{}
	},
}

// AcquireExchangeEvent gets an ExchangeEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireExchangeEvent() *ExchangeEvent {
	return exchangePool.Get().(*ExchangeEvent)
}

// ReleaseExchangeEvent returns an ExchangeEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseExchangeEvent(ev *ExchangeEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = 0
	ev.Requester = ""
	ev.Amount = 0

	exchangePool.Put(ev)
}

// Warmup pre-allocates exchange events to reduce GC pressure at startup.
func Warmup(batchSize int) {
	evs := make([]*ExchangeEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireExchangeEvent())
	}
	for _, ev := range evs {
		ReleaseExchangeEvent(ev)
	}
}
