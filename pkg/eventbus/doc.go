/*
Package eventbus provides a durable, filtered, replayable in-process event bus.

# Overview

Producers publish typed events; the bus stamps them with metadata, runs the
global filter, records them in an in-memory history ring and, optionally, a
SQLite event log, and queues them for dispatch. A single worker goroutine
delivers envelopes strictly in publish order to the handlers subscribed to
their kind, then to the global handlers.

Persisted envelopes can be queried, replayed with their original payload,
retried when they failed, and swept by age.

# Basic Usage

	type OrderPlaced struct {
	    OrderID string  `json:"order_id"`
	    Total   float64 `json:"total"`
	}

	func main() {
	    log, err := store.NewSQLiteStore("events.db")
	    if err != nil {
	        panic(err)
	    }
	    defer log.Close()

	    bus := eventbus.New(
	        eventbus.WithSource("orders"),
	        eventbus.WithLog(log),
	    )
	    defer bus.Shutdown(context.Background())

	    bus.Subscribe("order.placed", func(ctx context.Context, evt event.Event) error {
	        order, err := event.Decode[OrderPlaced](evt)
	        if err != nil {
	            return err
	        }
	        fmt.Println("placed", order.OrderID)
	        return nil
	    })

	    evt := event.New("order.placed", OrderPlaced{OrderID: "o-1", Total: 9.5},
	        event.WithPriority(event.PriorityHigh))
	    if err := bus.Publish(context.Background(), evt); err != nil {
	        panic(err)
	    }
	}

# Dispatch Semantics

Each handler runs inside its own recover boundary. A handler that returns an
error or panics is counted in handlers_failed and logged; the remaining
handlers still run and the envelope is still marked processed. An envelope
is only marked failed when something outside the handlers breaks, such as a
panicking log implementation.

Priority is stored but never reorders dispatch. A slow handler delays every
envelope behind it unless WithHandlerTimeout is set.

# Filtering

WithGlobalFilter (or SetGlobalFilter) installs a filter.Spec consulted on
every publish. A rejected event is dropped before any side effect: no
counter, no history entry, no log row, no dispatch.

	bus.SetGlobalFilter(filter.New().
	    AddKind("order.placed", "order.shipped").
	    SetPriorityRange(event.PriorityNormal, event.PriorityCritical))

# Persistence

The log is best-effort. A failed write increments persistence_errors and is
logged at warn level; the publish still succeeds and handlers still run.
Status moves forward only: pending, processing, then processed or failed.

# Replay and Retry

Replay republishes logged envelopes as *event.RawEvent values that carry the
original JSON payload; handlers read it with event.Decode. RetryFailed does
the same for failed envelopes that have retry budget left. Neither runs
automatically.

# Shutdown

Shutdown stops new publishes and waits for queued envelopes to drain, bounded
by its context.
*/
package eventbus
