package queue

import "github.com/zeebo/xxh3"

// PartitionFor maps a partition key onto one of n partitions.
func PartitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxh3.HashString(key) % uint64(n))
}
