package util

// SlidingMetaSuffix is appended to a primary key to address its sliding
// duration sibling. The sibling always shares the primary key's TTL.
const SlidingMetaSuffix = ":metadata:sliding"

// SlidingMetaKey returns the sliding-duration sibling key for a primary key.
func SlidingMetaKey(key string) string { return key + SlidingMetaSuffix }

// LockKey returns the far-tier key for a named advisory lock.
func LockKey(resource string) string { return "lock:" + resource }
