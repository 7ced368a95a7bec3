// Package flow implements durable, resumable step execution on top of
// the job queue.
//
// A flow is an ordinary Go function broken into named steps. Each step
// runs at most once per success: its result is recorded in the job's
// payload, so when the queue re-delivers the job after a failure, a
// sleep, or a restart, the flow function replays from the top and
// completed steps return their recorded results without running again.
//
//	flow.New("process_order", func(r *flow.Run, in OrderInput) error {
//		rsv, err := flow.Exec(r, "reserve", func(ctx context.Context) (string, error) {
//			return inventory.Reserve(ctx, in.SKU)
//		})
//		if err != nil {
//			return err
//		}
//
//		if err := r.Sleep("cooling_off", 24*time.Hour); err != nil {
//			return err
//		}
//
//		return r.Step("charge", func(ctx context.Context) error {
//			return billing.Charge(ctx, in.CustomerID, rsv)
//		})
//	})
//
// Sleeps do not block a worker. r.Sleep parks the job in the queue and
// returns a *stride.SuspendError, which the handler passes up; the
// invocation ends cleanly and the queue re-delivers the job when the
// delay expires. On the resume pass the sleep step completes
// immediately and execution continues past it.
//
// Step slugs must be unique within a flow and stable across deploys;
// they are the keys the recorded results live under.
package flow
