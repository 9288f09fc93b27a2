// Package gliders provides fuzzy matching of UCS free-text glider names
// against a canonical type table, standing in for the original's
// weglide_find_closest_gliders lookup.
package gliders

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// KnownTypes is the canonical glider type table candidates are matched
// against. Not exhaustive — enough common types to exercise the matcher.
var KnownTypes = []string{
	"ASK 21", "ASK 23", "ASW 27", "ASW 28", "ASG 29",
	"Discus 2", "Discus CS", "DG-1000", "DG-808", "DG-303",
	"LS8", "LS6", "LS4", "Ventus 2", "Ventus 3",
	"Nimbus 4", "Duo Discus", "Pegase 101A", "Janus C",
	"Std Cirrus", "Libelle", "ASH 25", "ASH 31", "Arcus",
	"JS1", "JS3", "Antares 20E", "Stemme S10", "PIK-20",
}

// Match returns the known type whose name has the smallest Levenshtein
// distance to name (case-folded, whitespace-normalized), and that
// distance. An empty KnownTypes table returns ("", -1).
func Match(name string) (string, int) {
	normalized := normalize(name)
	best := ""
	bestDist := -1
	for _, candidate := range KnownTypes {
		d := levenshtein.ComputeDistance(normalized, normalize(candidate))
		if bestDist == -1 || d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	return best, bestDist
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
