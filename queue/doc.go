// Package queue holds the admission side of genqueue: the ordered pending
// sequence and per-owner submission limits.
//
// # Pending
//
// [Pending] orders queued job IDs by priority (lower value first) and by
// submission sequence among equal priorities. It holds IDs only; the job
// record store owns all job state.
//
// # Owner Limits
//
// [Limiter] enforces optional per-owner limits when a job is submitted. It
// uses a token-bucket rate limiter (golang.org/x/time/rate) and a cap on
// the number of jobs an owner may have queued:
//
//	l := queue.NewLimiter(queue.OwnerConfig{RateLimit: 2, RateBurst: 5},
//	    queue.OwnerConfig{Owner: "batch-service", MaxPending: 100},
//	)
//	if err := l.Admit(owner); err != nil {
//	    return err // wraps genqueue.ErrRateLimited
//	}
//	defer l.Release(owner) // once the job is dispatched or cancelled
//
// There is no global capacity limit: the pending sequence is unbounded.
package queue
