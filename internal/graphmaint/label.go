package graphmaint

import "github.com/google/uuid"

type labelInfo struct {
	label      string
	confidence float64
}

// labelCommunities derives each community's label from the most-
// assigned concept label among its members (after the same document-
// frequency gate §4.4 applies to composition), with confidence equal to
// the fraction of members carrying that label.
func labelCommunities(assignments map[uuid.UUID]int, labelsOf ConceptLookup) map[int]labelInfo {
	if labelsOf == nil {
		return nil
	}

	members := map[int][]uuid.UUID{}
	for node, comm := range assignments {
		members[comm] = append(members[comm], node)
	}

	out := map[int]labelInfo{}
	for comm, nodes := range members {
		counts := map[string]int{}
		for _, n := range nodes {
			for _, l := range labelsOf(n) {
				counts[l]++
			}
		}
		best, bestCount := "", 0
		for l, c := range counts {
			if c > bestCount || (c == bestCount && l < best) {
				best, bestCount = l, c
			}
		}
		if best == "" {
			continue
		}
		out[comm] = labelInfo{label: best, confidence: float64(bestCount) / float64(len(nodes))}
	}
	return out
}

func largestCommunityRatio(assignments map[uuid.UUID]int, nodeCount int) float64 {
	if nodeCount == 0 {
		return 0
	}
	sizes := map[int]int{}
	for _, c := range assignments {
		sizes[c]++
	}
	largest := 0
	for _, s := range sizes {
		if s > largest {
			largest = s
		}
	}
	return float64(largest) / float64(nodeCount)
}
