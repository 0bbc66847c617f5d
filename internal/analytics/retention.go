// Retention sweep: removes analytics date partitions older than the
// configured retention window. Grounded on src/analytics/retention.rs; the
// underlying Parquet storage itself is an out-of-scope external
// collaborator (spec §1), but sweeping the directories the rollup
// broadcaster also reads from is in scope as a small supporting loop (spec
// §9 names "sync, rollup, retention" together as the background loops this
// core owns).
package analytics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const datePartitionPrefix = "date="
const dateLayout = "2006-01-02"

// CleanupOldPartitions walks analyticsDir/{index}/{searches|events}/date=YYYY-MM-DD
// and removes any date partition older than retentionDays relative to now,
// returning the count of partitions removed.
func CleanupOldPartitions(analyticsDir string, retentionDays int, now time.Time) (int, error) {
	indexes, err := DiscoverIndexes(analyticsDir)
	if err != nil {
		return 0, err
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	removed := 0
	for _, index := range indexes {
		for _, kind := range []string{"searches", "events"} {
			kindDir := filepath.Join(analyticsDir, index, kind)
			entries, err := os.ReadDir(kindDir)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return removed, err
			}
			for _, e := range entries {
				if !e.IsDir() || !strings.HasPrefix(e.Name(), datePartitionPrefix) {
					continue
				}
				dateStr := strings.TrimPrefix(e.Name(), datePartitionPrefix)
				date, err := time.Parse(dateLayout, dateStr)
				if err != nil {
					continue // not a date-shaped partition name; leave it alone
				}
				if date.Before(cutoff) {
					if err := os.RemoveAll(filepath.Join(kindDir, e.Name())); err != nil {
						return removed, err
					}
					removed++
				}
			}
		}
	}
	return removed, nil
}

const retentionSweepInterval = 24 * time.Hour

// RunRetentionLoop runs CleanupOldPartitions once immediately, then once
// per day on a ticker, which drops missed ticks rather than burst-replaying
// them.
func RunRetentionLoop(ctx context.Context, analyticsDir string, retentionDays int, log func(format string, args ...any)) {
	if _, err := CleanupOldPartitions(analyticsDir, retentionDays, time.Now()); err != nil && log != nil {
		log("retention sweep failed: %v", err)
	}

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := CleanupOldPartitions(analyticsDir, retentionDays, time.Now()); err != nil && log != nil {
				log("retention sweep failed: %v", err)
			}
		}
	}
}
