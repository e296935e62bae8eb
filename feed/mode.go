package feed

import "github.com/arloliu/changefeed/types"

// ApplyMode filters raw changes for delivery in mode.
//
// In latest-version mode only the last change of each item within the batch
// is kept and deletes are dropped. All-versions mode returns changes unchanged.
// The relative order of the kept changes is preserved.
//
// Parameters:
//   - changes: Raw changes in feed order
//   - mode: Delivery mode (empty means latest version)
//
// Returns:
//   - []types.Change: Changes to deliver
func ApplyMode(changes []types.Change, mode types.FeedMode) []types.Change {
	if mode == types.FeedModeAllVersionsAndDeletes || len(changes) == 0 {
		return changes
	}

	last := make(map[string]int, len(changes))
	for i, c := range changes {
		last[c.ID] = i
	}

	out := make([]types.Change, 0, len(last))
	for i, c := range changes {
		if last[c.ID] != i || c.Operation == types.OperationDelete {
			continue
		}
		out = append(out, c)
	}

	return out
}
