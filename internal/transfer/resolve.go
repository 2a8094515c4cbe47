package transfer

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxsec/voxsec/internal/config"
)

const (
	// phoneticThreshold is the minimum Jaro-Winkler score a phonetically
	// overlapping candidate must reach.
	phoneticThreshold = 0.70

	// fuzzyThreshold applies when no phonetic overlap exists and plain
	// string similarity is the only evidence.
	fuzzyThreshold = 0.85
)

// Resolve maps a spoken destination name onto a configured transfer
// destination.
//
// Matching proceeds in three stages: exact name or alias match, phonetic
// match (Double Metaphone overlap ranked by Jaro-Winkler), and a pure
// fuzzy fallback with a stricter threshold. Among matches the enabled
// entry with the highest priority wins. When nothing matches, the
// tenant's default destination is returned, or nil when no default is
// configured either.
func Resolve(requested string, dests []config.TransferDestination) *config.TransferDestination {
	requested = strings.ToLower(strings.TrimSpace(requested))

	var best *config.TransferDestination
	bestScore := 0.0
	for i := range dests {
		d := &dests[i]
		if !d.Enabled {
			continue
		}
		score, ok := matchScore(requested, d)
		if !ok {
			continue
		}
		if best == nil || d.Priority > best.Priority ||
			(d.Priority == best.Priority && score > bestScore) {
			best = d
			bestScore = score
		}
	}
	if best != nil {
		return best
	}

	for i := range dests {
		d := &dests[i]
		if d.Enabled && d.Default {
			return d
		}
	}
	return nil
}

// matchScore scores one destination against the requested name, checking
// the canonical name and every alias.
func matchScore(requested string, d *config.TransferDestination) (float64, bool) {
	if requested == "" {
		return 0, false
	}
	names := append([]string{d.Name}, d.Aliases...)

	best := 0.0
	matched := false
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if name == requested {
			return 1.0, true
		}
		score, ok := phoneticScore(requested, name)
		if ok && score > best {
			best = score
			matched = true
		}
	}
	return best, matched
}

// phoneticScore combines Double Metaphone candidate filtering with
// Jaro-Winkler ranking. Phonetically overlapping names pass at the lower
// threshold; others must clear the stricter fuzzy threshold.
func phoneticScore(input, name string) (float64, bool) {
	inputTokens := strings.Fields(input)
	nameTokens := strings.Fields(name)

	overlap := codesOverlap(codesFor(inputTokens), codesFor(nameTokens))
	score := bestSimilarity(inputTokens, nameTokens, input, name)

	if overlap && score >= phoneticThreshold {
		return score, true
	}
	if score >= fuzzyThreshold {
		return score, true
	}
	return 0, false
}

// codesFor returns the union of Double Metaphone codes over all tokens.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity ranks with three strategies: full strings, space-stripped
// strings, and the best pairwise token score. Spoken names often drop or
// merge words ("doctor weber" for "Dr. Weber"), so the max over all three
// is used.
func bestSimilarity(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		joined1 := strings.Join(inputTokens, "")
		joined2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(joined1, joined2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(it, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
