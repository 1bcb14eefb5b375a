// Package cluster groups signal records from different sources into candidate trends.
package cluster

import (
	"math"

	"github.com/okian/trendcast/internal/domain/model"
)

// TempoBandWidth is the width of a tempo bucket in bpm.
const TempoBandWidth = 10

// MinSources is the number of distinct sources a group needs to become a cluster.
const MinSources = 2

// KeyFor returns the bucket key of a record. Tempo bands round down, so a
// record at exactly 90 bpm lands in band 90 and one at 89.9 in band 80.
func KeyFor(rec model.SignalRecord) model.BucketKey {
	return model.BucketKey{
		Category:  rec.Attributes.Category,
		TempoBand: int(math.Floor(rec.Attributes.Tempo/TempoBandWidth)) * TempoBandWidth,
	}
}

// Partition groups records by bucket key. Groups corroborated by at least
// MinSources distinct sources are returned as clusters; the rest are returned
// separately so callers can report them. Both keep the first-seen order of
// bucket keys, and members keep input order.
func Partition(records []model.SignalRecord) (clusters, singleSource []model.TrendCluster) {
	order := make([]model.BucketKey, 0)
	groups := make(map[model.BucketKey][]model.SignalRecord)
	for _, rec := range records {
		k := KeyFor(rec)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	for _, k := range order {
		c := model.TrendCluster{Key: k, Members: groups[k]}
		if len(c.Sources()) >= MinSources {
			clusters = append(clusters, c)
		} else {
			singleSource = append(singleSource, c)
		}
	}
	return clusters, singleSource
}

// Cluster returns only the corroborated clusters.
func Cluster(records []model.SignalRecord) []model.TrendCluster {
	clusters, _ := Partition(records)
	return clusters
}
