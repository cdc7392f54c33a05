package flags

import (
	"hash/fnv"
	"math"
)

// The bucketing hash is pinned to FNV-1a 32-bit. Two deployments evaluating
// the same (user, flag) pair must land in the same bucket, and swapping the
// hash silently reassigns every user, so this is a compatibility contract,
// not an implementation detail.

const variantSaltSuffix = "-variant"

// Bucket maps (subjectID, salt) to a stable integer in [0, 2^31).
func Bucket(subjectID, salt string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subjectID))
	_, _ = h.Write([]byte(salt))
	return h.Sum32() & math.MaxInt32
}

// Percentile maps a user into [0, 100) for rollout comparisons. The flag
// name is the salt so each flag partitions the population independently.
func Percentile(userID, flagName string) int {
	return int(Bucket(userID, flagName) % 100)
}

// VariantSelector maps a user into [0, totalWeight) for weighted variant
// choice. A distinct salt keeps variant assignment uncorrelated with the
// rollout percentile.
func VariantSelector(userID, flagName string, totalWeight float64) float64 {
	return math.Mod(float64(Bucket(userID, flagName+variantSaltSuffix)), totalWeight)
}
