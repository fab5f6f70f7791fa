// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// FuzzyResult is the outcome of a fuzzy match: the fzf score and the
// rune positions in the text that matched the pattern. A zero Score
// means no match.
type FuzzyResult struct {
	Score     int
	Positions []int
}

// FuzzyMatch scores pattern against text using fzf's FuzzyMatchV2
// algorithm. Matching is case-insensitive. The slab is an optional
// reusable scratch buffer for callers matching many candidates in a
// loop (util.MakeSlab); nil allocates per call.
func FuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 {
		return FuzzyResult{}
	}

	// FuzzyMatchV2 expects an already-lowercased pattern when running
	// case-insensitively.
	lowered := make([]rune, len(pattern))
	for i, r := range pattern {
		lowered[i] = unicode.ToLower(r)
	}

	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(false, true, true, &chars, lowered, true, slab)
	if result.Score <= 0 {
		return FuzzyResult{}
	}

	match := FuzzyResult{Score: result.Score}
	if positions != nil {
		match.Positions = *positions
	}
	return match
}
