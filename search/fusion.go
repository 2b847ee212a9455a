package search

import "sort"

// fuseWeighted combines both modes' result sets by weighted score: for each
// id present in either set, sum the weighted contributions and divide by
// the total weight actually applied, so an id present in only one mode
// isn't penalized beyond the missing weight.
func fuseWeighted(lex, vec map[string]float64, wLex, wVec float64) map[string]float64 {
	out := make(map[string]float64)
	ids := make(map[string]struct{})
	for id := range lex {
		ids[id] = struct{}{}
	}
	for id := range vec {
		ids[id] = struct{}{}
	}

	for id := range ids {
		var sum, weight float64
		if s, ok := lex[id]; ok {
			sum += s * wLex
			weight += wLex
		}
		if s, ok := vec[id]; ok {
			sum += s * wVec
			weight += wVec
		}
		if weight == 0 {
			continue
		}
		out[id] = sum / weight
	}
	return out
}

// fuseReciprocalRank implements reciprocal-rank fusion: score(i) = sum of
// 1/(k+rank) over modes where id is present, then min-max normalized.
func fuseReciprocalRank(lex, vec map[string]float64, k float64) map[string]float64 {
	lexRanks := ranksOf(lex)
	vecRanks := ranksOf(vec)

	raw := make(map[string]float64)
	for id, rank := range lexRanks {
		raw[id] += 1 / (k + float64(rank))
	}
	for id, rank := range vecRanks {
		raw[id] += 1 / (k + float64(rank))
	}
	return minMaxNormalize(raw)
}

// ranksOf returns each id's 1-based rank within scores, sorted descending by
// score with lexicographic id tie-break, matching Search's own ordering
// rule so fusion and final presentation agree.
func ranksOf(scores map[string]float64) map[string]int {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})

	ranks := make(map[string]int, len(ids))
	for i, id := range ids {
		ranks[id] = i + 1
	}
	return ranks
}
