package producer

// Job priority bands. Higher wins a tie against older work, equal priorities
// stay FIFO.
const (
	variantPriorityMax = 10
	variantPriorityMin = 3

	cleanupPrioritySingle = 10
	cleanupPriorityBulk   = 5

	smallFileThreshold = 5 * 1024 * 1024
)

// VariantPriority - smaller uploads jump the line so phone snapshots appear
// on the event screen before multi-megabyte DSLR files
func VariantPriority(fileSize int64) int {
	if fileSize <= 0 {
		return variantPriorityMin
	}
	if fileSize < smallFileThreshold {
		return variantPriorityMax
	}
	// scale down toward the floor as files grow past the threshold
	priority := variantPriorityMax - int(fileSize/smallFileThreshold)
	if priority < variantPriorityMin {
		return variantPriorityMin
	}
	return priority
}

// CleanupPriority - a user deleting one photo expects it gone now; bulk
// event teardown can wait behind interactive work
func CleanupPriority(isBulk bool) int {
	if isBulk {
		return cleanupPriorityBulk
	}
	return cleanupPrioritySingle
}
