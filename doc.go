// Package stride provides durable, resumable execution of multi-step
// jobs on top of a retry-capable work queue.
//
// A flow author writes an ordinary Go function that calls a small set
// of primitives (Step, Sleep, SleepUntil, Repeat, Invoke) on the
// execution context it receives. The engine records the outcome of
// every step in the job's payload, so when the queue retries the job
// after a partial failure, steps that already completed are skipped and
// only the remaining work runs. A sleeping flow holds no worker slot:
// the job is parked in the queue and redelivered once the delay
// expires, and the flow resumes at the same program point by replay.
//
// # Quick Start
//
//	s := memory.New()
//	eng, err := engine.Build(s)
//	engine.Register(eng, flow.New("process_order",
//	    func(r *flow.Run, input OrderInput) error {
//	        if err := r.Step("charge", func(ctx context.Context) error {
//	            return chargeCard(ctx, input.PaymentToken)
//	        }); err != nil {
//	            return err
//	        }
//	        if err := r.Sleep("settle", 24*time.Hour); err != nil {
//	            return err
//	        }
//	        return r.Step("receipt", func(ctx context.Context) error {
//	            return sendReceipt(ctx, input.Email)
//	        })
//	    },
//	))
//	engine.Enqueue(ctx, eng, "process_order", OrderInput{...})
//	eng.Start(ctx)
//
// # Architecture
//
// The root package holds the shared Entity timestamps, configuration
// defaults, and the error taxonomy including the suspend signal. The
// flow package is the engine core; the job package defines the queue
// contract; the store subpackages implement it for memory, Redis,
// SQLite, and PostgreSQL; the worker package runs jobs through the
// middleware chain and applies the retry policy.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package stride
