package redis

// Redis key naming conventions for genqueue data.
// All keys are prefixed with "genqueue:" by default to avoid collisions.

const defaultKeyPrefix = "genqueue:"

// jobKey returns the key for a job hash: genqueue:job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// stateKey returns the Sorted Set indexing jobs in a state:
// genqueue:state:{state}
func (s *Store) stateKey(state string) string { return s.prefix + "state:" + state }

// ownerKey returns the Set indexing an owner's jobs: genqueue:owner:{owner}
func (s *Store) ownerKey(owner string) string { return s.prefix + "owner:" + owner }

// jobIDsKey is the Set tracking all job IDs for enumeration.
func (s *Store) jobIDsKey() string { return s.prefix + "job_ids" }
