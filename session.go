/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"slices"
)

// Player is a participant in a session. Only its owner may change it.
type Player struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// PlayerRef points at a player by identity only. Words and definitions keep
// refs so that renaming a player never touches them.
type PlayerRef struct {
	ID string `json:"id"`
}

// Definition is a candidate meaning for a word.
type Definition struct {
	ID     string      `json:"id"`
	Text   string      `json:"text"`
	Author PlayerRef   `json:"author"`
	Votes  []PlayerRef `json:"votes"`
}

// Word is a single guessing round. Definitions are kept in submission order
// and exactly one of them (the genuine one) is authored by the word's author.
type Word struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Author      PlayerRef    `json:"author"`
	Definitions []Definition `json:"definitions"`
	Voters      []PlayerRef  `json:"voters"`
}

// Session is the root aggregate broadcast to every participant.
type Session struct {
	ID      string   `json:"id"`
	Players []Player `json:"players"`
	Words   []Word   `json:"words"`

	// joins counts every accepted join, including players who have left.
	joins int
}

func newSession(id string) *Session {
	return &Session{
		ID:      id,
		Players: []Player{},
		Words:   []Word{},
	}
}

func hasRef(refs []PlayerRef, id string) bool {
	return slices.ContainsFunc(refs, func(r PlayerRef) bool { return r.ID == id })
}

func (s *Session) playerIndex(id string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
}

func (s *Session) wordIndex(id string) int {
	return slices.IndexFunc(s.Words, func(w Word) bool { return w.ID == id })
}

func (s *Session) hasPlayer(id string) bool {
	return s.playerIndex(id) >= 0
}

// Player returns the member with the given id.
func (s *Session) Player(id string) (Player, bool) {
	i := s.playerIndex(id)
	if i < 0 {
		return Player{}, false
	}

	return s.Players[i], true
}

// Word returns the word with the given id.
func (s *Session) Word(id string) (*Word, bool) {
	i := s.wordIndex(id)
	if i < 0 {
		return nil, false
	}

	return &s.Words[i], true
}

func (w *Word) definitionIndex(id string) int {
	return slices.IndexFunc(w.Definitions, func(d Definition) bool { return d.ID == id })
}

func (w *Word) definitionBy(author string) int {
	return slices.IndexFunc(w.Definitions, func(d Definition) bool { return d.Author.ID == author })
}

// Join adds a player to the session.
func (s *Session) Join(p Player) error {
	if p.ID == "" {
		return fmt.Errorf("join: player id is empty: %w", ErrMalformedPayload)
	}

	if s.hasPlayer(p.ID) {
		return fmt.Errorf("join: player %q: %w", p.ID, ErrDuplicatePlayer)
	}

	if p.Color != "" && !isPaletteColor(p.Color) {
		p.Color = ""
	}

	s.Players = append(s.Players, p)
	s.joins++

	return nil
}

// ModifyPlayer copies the mutable fields of to onto the member from.
// Empty fields in to leave the current values in place.
func (s *Session) ModifyPlayer(from, to Player) error {
	i := s.playerIndex(from.ID)
	if i < 0 {
		return fmt.Errorf("modify player %q: %w", from.ID, ErrNotFound)
	}

	if to.ID != "" && to.ID != from.ID {
		return fmt.Errorf("modify player %q: cannot become %q: %w", from.ID, to.ID, ErrUnauthorized)
	}

	if to.Color != "" && !isPaletteColor(to.Color) {
		return fmt.Errorf("modify player %q: color %q is not in the palette: %w", from.ID, to.Color, ErrMalformedPayload)
	}

	if to.Name != "" {
		s.Players[i].Name = to.Name
	}
	if to.Color != "" {
		s.Players[i].Color = to.Color
	}

	return nil
}

// AddWord appends a word carrying exactly one definition, its genuine one.
func (s *Session) AddWord(w Word) error {
	switch {
	case w.ID == "":
		return fmt.Errorf("add word: id is empty: %w", ErrInvalidWord)
	case w.Text == "":
		return fmt.Errorf("add word %q: text is empty: %w", w.ID, ErrInvalidWord)
	case s.wordIndex(w.ID) >= 0:
		return fmt.Errorf("add word %q: id already used: %w", w.ID, ErrInvalidWord)
	case len(w.Definitions) != 1:
		return fmt.Errorf("add word %q: want 1 definition, got %d: %w", w.ID, len(w.Definitions), ErrInvalidWord)
	case w.Definitions[0].Author.ID != w.Author.ID:
		return fmt.Errorf("add word %q: definition is not by the word's author: %w", w.ID, ErrInvalidWord)
	case w.Definitions[0].ID == "" || w.Definitions[0].Text == "":
		return fmt.Errorf("add word %q: definition is incomplete: %w", w.ID, ErrInvalidWord)
	case len(w.Definitions[0].Votes) != 0 || len(w.Voters) != 0:
		return fmt.Errorf("add word %q: new words cannot carry votes: %w", w.ID, ErrInvalidWord)
	}

	if !s.hasPlayer(w.Author.ID) {
		return fmt.Errorf("add word %q: author %q: %w", w.ID, w.Author.ID, ErrNotFound)
	}

	genuine := w.Definitions[0]
	genuine.Votes = []PlayerRef{}

	s.Words = append(s.Words, Word{
		ID:          w.ID,
		Text:        w.Text,
		Author:      w.Author,
		Definitions: []Definition{genuine},
		Voters:      []PlayerRef{},
	})

	return nil
}

// AddDefinition appends a decoy definition to a word.
func (s *Session) AddDefinition(wordID string, d Definition) error {
	w, ok := s.Word(wordID)
	if !ok {
		return fmt.Errorf("add definition: word %q: %w", wordID, ErrNotFound)
	}

	if d.ID == "" || d.Text == "" {
		return fmt.Errorf("add definition to %q: definition is incomplete: %w", wordID, ErrMalformedPayload)
	}

	if !s.hasPlayer(d.Author.ID) {
		return fmt.Errorf("add definition to %q: author %q: %w", wordID, d.Author.ID, ErrNotFound)
	}

	if d.Author.ID == w.Author.ID {
		return fmt.Errorf("add definition to %q: author owns the word: %w", wordID, ErrUnauthorized)
	}

	if w.definitionBy(d.Author.ID) >= 0 {
		return fmt.Errorf("add definition to %q: author %q: %w", wordID, d.Author.ID, ErrDuplicateAuthor)
	}

	if w.definitionIndex(d.ID) >= 0 {
		return fmt.Errorf("add definition to %q: id %q already used: %w", wordID, d.ID, ErrMalformedPayload)
	}

	w.Definitions = append(w.Definitions, Definition{
		ID:     d.ID,
		Text:   d.Text,
		Author: d.Author,
		Votes:  []PlayerRef{},
	})

	return nil
}

// AddVote records voterID's vote for one definition of a word.
func (s *Session) AddVote(wordID, definitionID, voterID string) error {
	w, ok := s.Word(wordID)
	if !ok {
		return fmt.Errorf("add vote: word %q: %w", wordID, ErrNotFound)
	}

	di := w.definitionIndex(definitionID)
	if di < 0 {
		return fmt.Errorf("add vote on %q: definition %q: %w", wordID, definitionID, ErrNotFound)
	}

	if !s.hasPlayer(voterID) {
		return fmt.Errorf("add vote on %q: voter %q: %w", wordID, voterID, ErrNotFound)
	}

	if voterID == w.Author.ID {
		return fmt.Errorf("add vote on %q: %w", wordID, ErrSelfVote)
	}

	if hasRef(w.Voters, voterID) {
		return fmt.Errorf("add vote on %q: voter %q: %w", wordID, voterID, ErrDuplicateVote)
	}

	ref := PlayerRef{ID: voterID}
	w.Definitions[di].Votes = append(w.Definitions[di].Votes, ref)
	w.Voters = append(w.Voters, ref)

	return nil
}

// ModifyWord replaces the text of a word and, when to carries one, the text
// of its genuine definition. Decoys and votes are kept.
func (s *Session) ModifyWord(callerID string, to Word) error {
	w, ok := s.Word(to.ID)
	if !ok {
		return fmt.Errorf("modify word: word %q: %w", to.ID, ErrNotFound)
	}

	if callerID != w.Author.ID {
		return fmt.Errorf("modify word %q: %w", to.ID, ErrUnauthorized)
	}

	if to.Author.ID != "" && to.Author.ID != w.Author.ID {
		return fmt.Errorf("modify word %q: author cannot change: %w", to.ID, ErrInvalidWord)
	}

	if to.Text == "" {
		return fmt.Errorf("modify word %q: text is empty: %w", to.ID, ErrInvalidWord)
	}

	genuine := ""
	for _, d := range to.Definitions {
		if d.Author.ID == w.Author.ID && d.Text != "" {
			genuine = d.Text
			break
		}
	}

	gi := w.definitionBy(w.Author.ID)
	if gi < 0 {
		return fmt.Errorf("modify word %q: no genuine definition: %w", to.ID, ErrInvariantViolation)
	}

	w.Text = to.Text
	if genuine != "" {
		w.Definitions[gi].Text = genuine
	}

	return nil
}

// DeleteWord removes a word along with its definitions and votes.
func (s *Session) DeleteWord(callerID, wordID string) error {
	i := s.wordIndex(wordID)
	if i < 0 {
		return fmt.Errorf("delete word: word %q: %w", wordID, ErrNotFound)
	}

	if callerID != s.Words[i].Author.ID {
		return fmt.Errorf("delete word %q: %w", wordID, ErrUnauthorized)
	}

	s.Words = slices.Delete(s.Words, i, i+1)

	return nil
}

// Leave removes a player and reports whether the session is now empty.
// Words, definitions and votes by the player stay in place.
func (s *Session) Leave(playerID string) (bool, error) {
	i := s.playerIndex(playerID)
	if i < 0 {
		return len(s.Players) == 0, fmt.Errorf("leave: player %q: %w", playerID, ErrNotFound)
	}

	s.Players = slices.Delete(s.Players, i, i+1)

	return len(s.Players) == 0, nil
}

// Check verifies the cross-entity invariants of every word.
func (s *Session) Check() error {
	for _, w := range s.Words {
		genuine := 0
		authors := make(map[string]bool, len(w.Definitions))
		cast := make(map[string]bool, len(w.Voters))

		for _, d := range w.Definitions {
			if d.Author.ID == w.Author.ID {
				genuine++
			}

			if authors[d.Author.ID] {
				return fmt.Errorf("word %q: %q authored two definitions: %w", w.ID, d.Author.ID, ErrInvariantViolation)
			}
			authors[d.Author.ID] = true

			for _, v := range d.Votes {
				if cast[v.ID] {
					return fmt.Errorf("word %q: %q voted twice: %w", w.ID, v.ID, ErrInvariantViolation)
				}
				cast[v.ID] = true
			}
		}

		if genuine != 1 {
			return fmt.Errorf("word %q: %d genuine definitions: %w", w.ID, genuine, ErrInvariantViolation)
		}

		if len(cast) != len(w.Voters) {
			return fmt.Errorf("word %q: %d votes for %d voters: %w", w.ID, len(cast), len(w.Voters), ErrInvariantViolation)
		}

		seen := make(map[string]bool, len(w.Voters))
		for _, v := range w.Voters {
			if !cast[v.ID] || seen[v.ID] {
				return fmt.Errorf("word %q: voter %q does not match one vote: %w", w.ID, v.ID, ErrInvariantViolation)
			}
			seen[v.ID] = true
		}
	}

	return nil
}

// Clone returns a deep copy that shares no slices with s.
func (s *Session) Clone() *Session {
	c := &Session{
		ID:      s.ID,
		Players: slices.Clone(s.Players),
		Words:   make([]Word, len(s.Words)),
		joins:   s.joins,
	}
	if c.Players == nil {
		c.Players = []Player{}
	}

	for i, w := range s.Words {
		cw := w
		cw.Voters = append([]PlayerRef{}, w.Voters...)
		cw.Definitions = make([]Definition, len(w.Definitions))

		for j, d := range w.Definitions {
			cd := d
			cd.Votes = append([]PlayerRef{}, d.Votes...)
			cw.Definitions[j] = cd
		}

		c.Words[i] = cw
	}

	return c
}
