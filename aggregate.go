package main

import (
	"log"
	"sort"
)

// CalculateAggregateRankings combines parsed rankings from all reviewers into
// a leaderboard. Each model's average rank is the mean of its 1-indexed
// positions over only the rankings that contain its label, so an abstaining
// reviewer neither penalizes nor inflates it. Models ranked by nobody are
// omitted. Sorted by average rank ascending, ties broken by descending vote
// count, then by Stage 1 submission order.
func CalculateAggregateRankings(stage2Results []Stage2Ranking, anon *AnonymizationMap) []AggregateRanking {
	// Track 1-indexed positions per label
	labelPositions := make(map[string][]int)
	for _, ranking := range stage2Results {
		for position, label := range ranking.ParsedRanking {
			labelPositions[label] = append(labelPositions[label], position+1)
		}
	}

	// Walk labels in submission order so equal entries keep that order
	// through the stable sort.
	aggregate := make([]AggregateRanking, 0, len(anon.Labels))
	for _, label := range anon.Labels {
		positions := labelPositions[label]
		if len(positions) == 0 {
			log.Printf("Model %s (%s) received no rankings", anon.LabelToModel[label], label)
			continue
		}

		sum := 0
		for _, pos := range positions {
			sum += pos
		}

		aggregate = append(aggregate, AggregateRanking{
			Model:         anon.LabelToModel[label],
			AverageRank:   float64(sum) / float64(len(positions)),
			RankingsCount: len(positions),
		})
	}

	sort.SliceStable(aggregate, func(i, j int) bool {
		if aggregate[i].AverageRank != aggregate[j].AverageRank {
			return aggregate[i].AverageRank < aggregate[j].AverageRank
		}
		return aggregate[i].RankingsCount > aggregate[j].RankingsCount
	})

	return aggregate
}
