// Package redis holds the Redis-backed pieces shared between instances:
// webhook message deduplication and the sweep leader lock.
package redis
