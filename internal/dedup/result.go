package dedup

// Result classifies a single check_duplicate_data / check_duplicate_join
// observation against the first-seen station for its message key.
type Result int

const (
	// NotDuplicate is returned for the first observation of a message key.
	NotDuplicate Result = iota
	// DuplicateDueToResubmission is returned for a data frame re-observed
	// from the same station that was first seen for this key. Joins never
	// emit this result.
	DuplicateDueToResubmission
	// Duplicate is returned for a cross-station re-observation of a data
	// frame whose device is in Drop mode, and for every re-observation of a
	// join request.
	Duplicate
	// SoftDuplicateDueToDeduplicationStrategy is returned for a
	// cross-station re-observation of a data frame whose device is in Mark
	// or None mode.
	SoftDuplicateDueToDeduplicationStrategy
)

func (r Result) String() string {
	switch r {
	case NotDuplicate:
		return "NOT_DUPLICATE"
	case DuplicateDueToResubmission:
		return "DUPLICATE_DUE_TO_RESUBMISSION"
	case Duplicate:
		return "DUPLICATE"
	case SoftDuplicateDueToDeduplicationStrategy:
		return "SOFT_DUPLICATE_DUE_TO_DEDUPLICATION_STRATEGY"
	default:
		return "UNKNOWN"
	}
}
