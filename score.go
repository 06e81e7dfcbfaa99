/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "fmt"

// fullyVoted reports whether every current member other than the word's
// author has voted on it.
func (s *Session) fullyVoted(w *Word) bool {
	for _, p := range s.Players {
		if p.ID == w.Author.ID {
			continue
		}
		if !hasRef(w.Voters, p.ID) {
			return false
		}
	}

	return true
}

// Score derives a player's total from the session. Words that are not fully
// voted contribute nothing.
//
//   - the author of a word earns one point per voter when nobody picked the
//     genuine definition
//   - a voter who picked the genuine definition earns two points
//   - a decoy author earns one point per vote on their decoy
func Score(s *Session, playerID string) (int, error) {
	score := 0

	for i := range s.Words {
		w := &s.Words[i]

		if !s.fullyVoted(w) {
			continue
		}

		var genuine, own *Definition
		for j := range w.Definitions {
			d := &w.Definitions[j]

			if d.Author.ID == w.Author.ID {
				if genuine != nil {
					return 0, fmt.Errorf("score word %q: more than one genuine definition: %w", w.ID, ErrInvariantViolation)
				}
				genuine = d
			}

			if d.Author.ID == playerID {
				if own != nil {
					return 0, fmt.Errorf("score word %q: %q has more than one definition: %w", w.ID, playerID, ErrInvariantViolation)
				}
				own = d
			}
		}

		if genuine == nil {
			return 0, fmt.Errorf("score word %q: no genuine definition: %w", w.ID, ErrInvariantViolation)
		}

		if playerID == w.Author.ID {
			if len(genuine.Votes) == 0 {
				score += len(w.Voters)
			}

			continue
		}

		if hasRef(genuine.Votes, playerID) {
			score += 2
		}

		if own != nil {
			score += len(own.Votes)
		}
	}

	return score, nil
}

// Scores returns every member's score keyed by player id.
func Scores(s *Session) (map[string]int, error) {
	scores := make(map[string]int, len(s.Players))

	for _, p := range s.Players {
		score, err := Score(s, p.ID)
		if err != nil {
			return nil, err
		}

		scores[p.ID] = score
	}

	return scores, nil
}
