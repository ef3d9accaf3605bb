package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

// JobID carries the id of the job being run.
const JobID key = "job_id"
