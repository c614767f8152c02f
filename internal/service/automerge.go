package service

import "unicode/utf8"

// MergeThresholds tunes the auto-merge gate. These are arbitrary constants,
// not correctness guarantees; they only decide whether a conflicting save is
// retried silently or escalated to the user.
type MergeThresholds struct {
	LenDelta   int
	RelDelta   float64
	Window     int
	Similarity float64
}

// DefaultMergeThresholds are the stock tuning, overridable via config.
func DefaultMergeThresholds() MergeThresholds {
	return MergeThresholds{
		LenDelta:   30,
		RelDelta:   0.1,
		Window:     100,
		Similarity: 0.8,
	}
}

// CanAutoMerge judges two divergent contents as non-overlapping by a cheap
// structural proxy: a small absolute or relative length difference, or near
// identical leading and trailing windows. It is a gate for "safe to retry the
// save against the new version", not a content merge.
func CanAutoMerge(local, server string, th MergeThresholds) bool {
	if local == server {
		return true
	}
	localLen := utf8.RuneCountInString(local)
	serverLen := utf8.RuneCountInString(server)
	delta := localLen - serverLen
	if delta < 0 {
		delta = -delta
	}
	if delta < th.LenDelta {
		return true
	}
	avg := float64(localLen+serverLen) / 2
	if avg > 0 && float64(delta)/avg < th.RelDelta {
		return true
	}
	localRunes := []rune(local)
	serverRunes := []rune(server)
	return windowsSimilar(localRunes, serverRunes, th.Window, th.Similarity, false) &&
		windowsSimilar(localRunes, serverRunes, th.Window, th.Similarity, true)
}

func windowsSimilar(a, b []rune, window int, similarity float64, fromEnd bool) bool {
	n := window
	if len(a) < n {
		n = len(a)
	}
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return false
	}
	matches := 0
	for i := 0; i < n; i++ {
		var ca, cb rune
		if fromEnd {
			ca, cb = a[len(a)-1-i], b[len(b)-1-i]
		} else {
			ca, cb = a[i], b[i]
		}
		if ca == cb {
			matches++
		}
	}
	return float64(matches)/float64(n) >= similarity
}
