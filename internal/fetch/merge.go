package fetch

import "marketflow/internal/model"

// Merge combines stored history with freshly fetched bars. On duplicate
// dates the fresh bar wins. When retain > 0 only the newest retain bars are
// kept. Merging the same fresh bars twice yields the same series.
func Merge(history, fresh []model.DailyBar, retain int) []model.DailyBar {
	all := make([]model.DailyBar, 0, len(history)+len(fresh))
	all = append(all, history...)
	all = append(all, fresh...)

	merged := model.DedupeSort(all)
	if retain > 0 && len(merged) > retain {
		merged = append([]model.DailyBar(nil), merged[len(merged)-retain:]...)
	}
	return merged
}
