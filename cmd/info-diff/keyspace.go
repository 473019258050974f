package main

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// DatabaseStats is one dbN line of INFO keyspace
type DatabaseStats struct {
	Keys    int64
	Expires int64
	AvgTTL  int64
}

// KeyspaceInfo maps database number to its stats
type KeyspaceInfo map[int]DatabaseStats

var dbLine = regexp.MustCompile(`^db(\d+):keys=(\d+),expires=(\d+)(?:,avg_ttl=(\d+))?`)

func parseKeyspaceInfo(info string) (KeyspaceInfo, error) {
	keyspace := make(KeyspaceInfo)
	for _, line := range strings.Split(info, "\n") {
		m := dbLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		db, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("bad keyspace line %q: %w", line, err)
		}
		stats := DatabaseStats{}
		stats.Keys, _ = strconv.ParseInt(m[2], 10, 64)
		stats.Expires, _ = strconv.ParseInt(m[3], 10, 64)
		if m[4] != "" {
			stats.AvgTTL, _ = strconv.ParseInt(m[4], 10, 64)
		}
		keyspace[db] = stats
	}
	return keyspace, nil
}

// compare returns one line per critical difference. avg_ttl drifts between
// servers and is ignored.
func compare(ref, sut snapshot, only []int) []string {
	dbs := lo.Uniq(append(lo.Keys(ref.keyspace), lo.Keys(sut.keyspace)...))
	if len(only) > 0 {
		dbs = lo.Filter(dbs, func(db int, _ int) bool { return lo.Contains(only, db) })
	}
	slices.Sort(dbs)

	var diffs []string
	for _, db := range dbs {
		r, inRef := ref.keyspace[db]
		s, inSut := sut.keyspace[db]
		switch {
		case !inRef:
			diffs = append(diffs, fmt.Sprintf("db%d: missing in reference, system has keys=%d,expires=%d", db, s.Keys, s.Expires))
		case !inSut:
			diffs = append(diffs, fmt.Sprintf("db%d: missing in system, reference has keys=%d,expires=%d", db, r.Keys, r.Expires))
		default:
			if r.Keys != s.Keys {
				diffs = append(diffs, fmt.Sprintf("db%d: keys differ: ref=%d sut=%d", db, r.Keys, s.Keys))
			}
			if r.Expires != s.Expires {
				diffs = append(diffs, fmt.Sprintf("db%d: expires differ: ref=%d sut=%d", db, r.Expires, s.Expires))
			}
		}
	}

	if len(only) == 0 && ref.digest != "" && sut.digest != "" && ref.digest != sut.digest {
		diffs = append(diffs, fmt.Sprintf("digest differs: ref=%s sut=%s", ref.digest, sut.digest))
	}
	return diffs
}
