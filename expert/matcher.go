package expert

import "sort"

// Score computes the weighted delegation score for e (spec §4.6):
//
//	0.4 * success_rate + 0.3 * (1 / avg_response_time) + 0.3 * (1 / (current_contexts + 1))
//
// Score does not look at capabilities; Match excludes experts that do
// not advertise the requested one.
func Score(e *Expert) float64 {
	responseTerm := 0.0
	if e.AvgResponseTime > 0 {
		responseTerm = 1 / e.AvgResponseTime
	}
	loadTerm := 1 / float64(e.CurrentContexts+1)
	return 0.4*e.SuccessRate + 0.3*responseTerm + 0.3*loadTerm
}

// Match ranks the given experts for a capability, highest score first,
// breaking ties lexicographically by agent ID for deterministic output
// (spec §4.6). Only StatusAvailable experts advertising the capability
// are eligible — busy and offline experts are excluded.
func Match(experts []*Expert, capability string) []*Expert {
	var candidates []*Expert
	for _, e := range experts {
		if e.Status != StatusAvailable {
			continue
		}
		for _, c := range e.Capabilities {
			if c == capability {
				candidates = append(candidates, e)
				break
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := Score(candidates[i]), Score(candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// Best returns the single highest-scoring expert for a capability, or nil
// if none are available.
func Best(experts []*Expert, capability string) *Expert {
	ranked := Match(experts, capability)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}
