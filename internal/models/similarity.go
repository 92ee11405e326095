package models

import "strings"

// SimilarityData is the fingerprint of an entity: controlled-vocabulary ids
// (tokens) and the domain labels they imply (topics).
type SimilarityData struct {
	Tokens []string `json:"tokens,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// Dedup removes repeated tokens and topics in place, keeping first occurrences.
func (s *SimilarityData) Dedup() {
	s.Tokens = Dedup(s.Tokens)
	s.Topics = Dedup(s.Topics)
}

// Merge appends other's tokens and topics. Call Dedup afterwards.
func (s *SimilarityData) Merge(other SimilarityData) {
	s.Tokens = append(s.Tokens, other.Tokens...)
	s.Topics = append(s.Topics, other.Topics...)
}

// IsEmpty reports whether there are neither tokens nor topics.
func (s SimilarityData) IsEmpty() bool {
	return len(s.Tokens) == 0 && len(s.Topics) == 0
}

// NormalizeTerm trims a vocabulary id or topic label and joins inner
// whitespace runs with "_", since stored lists are whitespace separated.
func NormalizeTerm(s string) string {
	return strings.Join(strings.Fields(s), "_")
}

// Dedup returns normalized items without repeats or empty strings, in
// first-seen order.
func Dedup(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = NormalizeTerm(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
