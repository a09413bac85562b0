package codec

import "golang.org/x/crypto/sha3"

// PartitionForKey deterministically picks a partition number from
// partitionNumbers for the given producer key: the SHA3-256 digest of key
// is taken as a lowercase hex string, the numeric value of every hex
// digit is summed, and the sum modulo len(partitionNumbers) indexes into
// partitionNumbers.
func PartitionForKey(partitionNumbers []int, key string) int {
	sum := sha3.Sum256([]byte(key))

	var digitSum int
	for _, b := range sum {
		digitSum += int(b>>4) + int(b&0x0f)
	}

	return partitionNumbers[digitSum%len(partitionNumbers)]
}
