// Package namegen produces memorable three-part random session names,
// used as the default Job.Name (and therefore the Executor session name)
// when the caller does not supply one.
package namegen

import (
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"quiet", "brisk", "amber", "lucid", "still", "bold", "swift", "calm",
	"eager", "dense", "faint", "grand", "humble", "keen", "lively", "mellow",
}

var nouns = []string{
	"falcon", "cedar", "river", "harbor", "ember", "willow", "granite",
	"comet", "meadow", "basin", "quartz", "spruce", "delta", "canyon",
}

// Generate returns a name of the form "adjective-noun-NNNN". The numeric
// suffix is returned separately so a caller retrying after a clash can
// reroll just that part.
func Generate(r *rand.Rand) (name string, suffix string) {
	adj := adjectives[r.Intn(len(adjectives))]
	noun := nouns[r.Intn(len(nouns))]
	suffix = fmt.Sprintf("%04d", r.Intn(10000))
	return fmt.Sprintf("%s-%s-%s", adj, noun, suffix), suffix
}

// Reroll keeps the adjective-noun pair implicit and only swaps the
// numeric suffix, used when a generated name collides with a live
// Executor session (§9: "retry with a fresh seed").
func Reroll(name string, r *rand.Rand) string {
	base := name
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '-' {
			base = name[:i]
			break
		}
	}
	return fmt.Sprintf("%s-%04d", base, r.Intn(10000))
}
