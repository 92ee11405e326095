package models

// Hit is one entity of a result page with the score it was ranked by.
type Hit struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}

// SearchResult is one page of entities at the requested view granularity.
// For ensemble searches Score is the combined member score and hits are
// ordered by ascending combined score (lower ranks first).
type SearchResult struct {
	TotalResults int         `json:"total_results"`
	Hits         []Hit       `json:"hits"`
	View         Granularity `json:"view"`
	Searched     Granularity `json:"searched"`
	QueryTime    int64       `json:"query_time_ms"`
}

// Entities returns the hit entities in order.
func (r *SearchResult) Entities() []Entity {
	out := make([]Entity, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Entity
	}
	return out
}
