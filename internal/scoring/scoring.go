// internal/scoring/scoring.go
package scoring

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// FieldMatchThreshold is the minimum similarity ratio for a guessed field
// (artist or title) to count as correct.
const FieldMatchThreshold = 0.80

// Base scores and floors for the time decay. Elapsed time eats into the base
// at DecayPerSecond points per second, never dropping below the floor.
const (
	BothCorrectBase  = 1000
	BothCorrectFloor = 100
	OneCorrectBase   = 500
	OneCorrectFloor  = 50
	DecayPerSecond   = 10
)

// Result reports which fields of a guess matched the current song.
type Result struct {
	ArtistCorrect bool `json:"artist_correct"`
	TitleCorrect  bool `json:"title_correct"`
	BothCorrect   bool `json:"both_correct"`
}

var (
	parensRe   = regexp.MustCompile(`\([^)]*\)`)
	bracketsRe = regexp.MustCompile(`\[[^\]]*\]`)
	remasterRe = regexp.MustCompile(`(?i)\s*-\s*remaster(ed)?.*`)
	yearRe     = regexp.MustCompile(`\s*-\s*\d{4}.*`)
	punctRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// Normalize reduces a guess or reference string to a canonical comparable
// form: lowercase, annotations and remaster/year suffixes stripped, no
// punctuation, single-spaced.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = parensRe.ReplaceAllString(text, "")
	text = bracketsRe.ReplaceAllString(text, "")
	text = remasterRe.ReplaceAllString(text, "")
	text = yearRe.ReplaceAllString(text, "")
	text = punctRe.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// Similarity returns the normalized matching-blocks ratio between two already
// normalized strings, in [0, 1]: 2*M/T where M is the total length of the
// matching blocks and T the combined length. Comparison is per rune.
func Similarity(guess, actual string) float64 {
	return difflib.NewMatcher(strings.Split(guess, ""), strings.Split(actual, "")).Ratio()
}

// CheckAnswer compares a guess against the song's reference artist and title.
func CheckAnswer(artistGuess, titleGuess, artist, title string) Result {
	artistScore := Similarity(Normalize(artistGuess), Normalize(artist))
	titleScore := Similarity(Normalize(titleGuess), Normalize(title))

	res := Result{
		ArtistCorrect: artistScore >= FieldMatchThreshold,
		TitleCorrect:  titleScore >= FieldMatchThreshold,
	}
	res.BothCorrect = res.ArtistCorrect && res.TitleCorrect
	return res
}

// Score computes the time-decayed award for a check result. A guess with
// neither field correct scores zero and must not mutate the player.
func Score(res Result, elapsed time.Duration) int {
	var base, floor float64
	switch {
	case res.BothCorrect:
		base, floor = BothCorrectBase, BothCorrectFloor
	case res.ArtistCorrect || res.TitleCorrect:
		base, floor = OneCorrectBase, OneCorrectFloor
	default:
		return 0
	}

	score := base - elapsed.Seconds()*DecayPerSecond
	if score < floor {
		score = floor
	}
	return int(math.Round(score))
}
