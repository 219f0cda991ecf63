// Package redis implements job.Store on Redis for deployments that need
// jobs to survive a restart. Each job is a Hash; per-state Sorted Sets
// (scored by creation time) index jobs for listing and counting, and a
// Set per owner indexes jobs by principal.
//
// Updates run as optimistic transactions: the job key is WATCHed, the
// mutate function runs on the freshly read job, and the write is retried
// when another writer got there first.
//
// The caller owns the Redis client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
