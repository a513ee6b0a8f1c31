package policy

import (
	"hash/fnv"
	"regexp"
)

// LeakGuard prevents system-prompt fragments from being echoed to the
// client. It fingerprints overlapping windows of the prompt and compares
// them against each outgoing fragment. Best-effort, not cryptographic:
// false positives and negatives are acceptable, but the result is
// deterministic for a fixed prompt, fragment, and configuration.
type LeakGuard struct {
	markers  []*regexp.Regexp
	ngram    int
	minMatch int
	drop     bool
}

var defaultMarkers = []*regexp.Regexp{
	regexp.MustCompile(`<<SYS>>`),
	regexp.MustCompile(`(?i)\bBEGIN SYSTEM PROMPT\b`),
	regexp.MustCompile(`(?i)\[\s*SYSTEM\s*\]`),
	regexp.MustCompile(`(?i)\bDO NOT DISCLOSE\b`),
	regexp.MustCompile(`(?i)\bdeveloper prompt\b`),
}

// NewLeakGuard builds a guard with the given window length, minimum number
// of matching windows, and mode ("mask" redacts leak candidates, "drop"
// discards them entirely).
func NewLeakGuard(ngram, minMatch int, mode string) *LeakGuard {
	if ngram < 4 {
		ngram = 20
	}
	if minMatch < 1 {
		minMatch = 3
	}
	return &LeakGuard{
		markers:  defaultMarkers,
		ngram:    ngram,
		minMatch: minMatch,
		drop:     mode == "drop",
	}
}

// Fingerprint hashes overlapping rune windows of text (stride = window/2,
// minimum 3).
func (g *LeakGuard) Fingerprint(text string) map[uint64]struct{} {
	fp := make(map[uint64]struct{})
	runes := []rune(text)
	if len(runes) < g.ngram {
		return fp
	}
	stride := g.ngram / 2
	if stride < 3 {
		stride = 3
	}
	for i := 0; i+g.ngram <= len(runes); i += stride {
		fp[hashWindow(runes[i:i+g.ngram])] = struct{}{}
	}
	return fp
}

func hashWindow(window []rune) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(window)))
	return h.Sum64()
}

func (g *LeakGuard) mightLeak(text string, sysFP map[uint64]struct{}) bool {
	if text == "" || len(sysFP) == 0 {
		return false
	}
	matches := 0
	for hash := range g.Fingerprint(text) {
		if _, ok := sysFP[hash]; ok {
			matches++
			if matches >= g.minMatch {
				return true
			}
		}
	}
	return false
}

func (g *LeakGuard) redact(text string) string {
	out := text
	for _, pattern := range g.markers {
		out = pattern.ReplaceAllString(out, "[redacted]")
	}
	return out
}

// Sanitize filters one outgoing fragment against the system-prompt
// fingerprint. Known prompt-style markers are redacted unconditionally;
// fingerprint-overlap leak candidates are dropped or redacted per mode.
func (g *LeakGuard) Sanitize(piece string, sysFP map[uint64]struct{}) string {
	if piece == "" {
		return ""
	}
	if g.mightLeak(piece, sysFP) && g.drop {
		return ""
	}
	return g.redact(piece)
}
