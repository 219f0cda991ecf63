package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

// CreateJob stores the job as a Hash and indexes it by state and owner.
// The existence check and all writes run in one WATCH/MULTI, so a failed
// create leaves nothing behind.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.jobKey(jID)

	txf := func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", genqueue.ErrJobAlreadyExists, jID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			pipe.SAdd(ctx, s.jobIDsKey(), jID)
			pipe.SAdd(ctx, s.ownerKey(j.Owner), jID)
			pipe.ZAdd(ctx, s.stateKey(string(j.State)), goredis.Z{Score: createdScore(j.CreatedAt), Member: jID})
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case errors.Is(err, goredis.TxFailedErr):
		// Another writer created the key between WATCH and EXEC.
		return fmt.Errorf("%w: %s", genqueue.ErrJobAlreadyExists, jID)
	case errors.Is(err, genqueue.ErrJobAlreadyExists):
		return err
	case err != nil:
		return fmt.Errorf("genqueue/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.client, s.jobKey(jobID.String()))
}

// UpdateJob runs fn inside a WATCH/MULTI transaction on the job hash and
// moves the job between state indexes when its state changes.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	jID := jobID.String()
	key := s.jobKey(jID)

	var updated *job.Job
	txf := func(tx *goredis.Tx) error {
		current, err := s.getJobByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = current.ID
		next.Owner = current.Owner

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(next))
			for _, f := range clearedFields(next) {
				pipe.HDel(ctx, key, f)
			}
			if next.State != current.State {
				pipe.ZRem(ctx, s.stateKey(string(current.State)), jID)
				pipe.ZAdd(ctx, s.stateKey(string(next.State)), goredis.Z{Score: createdScore(next.CreatedAt), Member: jID})
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.Debug("genqueue/redis: update retry", "job_id", jID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("genqueue/redis: update job %s: too much contention", jID)
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRange(ctx, s.stateKey(string(state)), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.client, s.jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Owner == "" {
		if opts.State != "" {
			n, err := s.client.ZCard(ctx, s.stateKey(string(opts.State))).Result()
			if err != nil {
				return 0, fmt.Errorf("genqueue/redis: count jobs: %w", err)
			}
			return n, nil
		}
		n, err := s.client.SCard(ctx, s.jobIDsKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("genqueue/redis: count jobs: %w", err)
		}
		return n, nil
	}

	ids, err := s.client.SMembers(ctx, s.ownerKey(opts.Owner)).Result()
	if err != nil {
		return 0, fmt.Errorf("genqueue/redis: count owner jobs: %w", err)
	}
	if opts.State == "" {
		return int64(len(ids)), nil
	}

	var count int64
	for _, jID := range ids {
		st, getErr := s.client.HGet(ctx, s.jobKey(jID), "state").Result()
		if getErr != nil {
			continue
		}
		if job.State(st) == opts.State {
			count++
		}
	}
	return count, nil
}

// CountByState reads every state index in one MULTI so the counts form a
// consistent snapshot.
func (s *Store) CountByState(ctx context.Context) (map[job.State]int64, error) {
	cmds := make(map[job.State]*goredis.IntCmd, len(job.States))
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, st := range job.States {
			cmds[st] = pipe.ZCard(ctx, s.stateKey(string(st)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: count by state: %w", err)
	}

	counts := make(map[job.State]int64, len(cmds))
	for st, cmd := range cmds {
		counts[st] = cmd.Val()
	}
	return counts, nil
}

// ── helpers ──

func createdScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

const timeLayout = time.RFC3339Nano

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":                  j.ID.String(),
		"state":               string(j.State),
		"owner":               j.Owner,
		"payload":             string(j.Payload),
		"priority":            strconv.Itoa(j.Priority),
		"progress":            strconv.Itoa(j.Progress),
		"progress_at_failure": strconv.Itoa(j.ProgressAtFailure),
		"timeout":             strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":          j.CreatedAt.Format(timeLayout),
		"updated_at":          j.UpdatedAt.Format(timeLayout),
	}
	if j.Result != nil {
		m["result"] = string(j.Result)
	}
	if j.FailureReason != "" {
		m["failure_reason"] = j.FailureReason
	}
	if j.FailureKind != "" {
		m["failure_kind"] = string(j.FailureKind)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(timeLayout)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(timeLayout)
	}
	return m
}

// clearedFields lists optional fields that must be removed from the hash
// because they are unset on j.
func clearedFields(j *job.Job) []string {
	var out []string
	if j.Result == nil {
		out = append(out, "result")
	}
	if j.FailureReason == "" {
		out = append(out, "failure_reason")
	}
	if j.FailureKind == "" {
		out = append(out, "failure_kind")
	}
	return out
}

func (s *Store) getJobByKey(ctx context.Context, c goredis.Cmdable, key string) (*job.Job, error) {
	vals, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, genqueue.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("genqueue/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                     //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])                     //nolint:errcheck // best-effort parse from trusted Redis data
	progressAtFailure, _ := strconv.Atoi(m["progress_at_failure"]) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)           //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(timeLayout, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(timeLayout, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:                jID,
		State:             job.State(m["state"]),
		Owner:             m["owner"],
		Payload:           []byte(m["payload"]),
		Priority:          priority,
		Progress:          progress,
		ProgressAtFailure: progressAtFailure,
		FailureReason:     m["failure_reason"],
		FailureKind:       job.FailureKind(m["failure_kind"]),
		Timeout:           time.Duration(timeout),
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}

	if v, ok := m["result"]; ok {
		j.Result = []byte(v)
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(timeLayout, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(timeLayout, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}

	return j, nil
}
