package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(id string) PlayerRef {
	return PlayerRef{ID: id}
}

func genuineWord(id, author string) Word {
	return Word{
		ID:     id,
		Text:   id,
		Author: ref(author),
		Definitions: []Definition{
			{ID: id + "-" + author, Text: "the real meaning of " + id, Author: ref(author)},
		},
	}
}

// barSession is the "bar" round: p1 wrote the word with d1, p2 and p3 each
// added a decoy (d2, d3). Nobody has voted yet.
func barSession(t *testing.T) *Session {
	t.Helper()

	s := newSession("test-session")
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.Join(Player{ID: id, Name: id}))
	}

	require.NoError(t, s.AddWord(Word{
		ID:     "bar",
		Text:   "bar",
		Author: ref("p1"),
		Definitions: []Definition{
			{ID: "d1", Text: "unit of pressure of one million dynes per square centimeter", Author: ref("p1")},
		},
	}))
	require.NoError(t, s.AddDefinition("bar", Definition{ID: "d2", Text: "a place to drink", Author: ref("p2")}))
	require.NoError(t, s.AddDefinition("bar", Definition{ID: "d3", Text: "a long metal rod", Author: ref("p3")}))

	return s
}

// requireRejected runs op against s and checks that it fails with want
// while leaving s untouched.
func requireRejected(t *testing.T, s *Session, want Fault, op func(*Session) error) {
	t.Helper()

	before := s.Clone()

	err := op(s)
	require.Error(t, err)
	assert.Truef(t, errors.Is(err, want), "want %s, got %v", want, err)
	assert.Equal(t, before, s, "rejected command must not change the session")
}

func TestJoin(t *testing.T) {
	s := newSession("s")

	require.NoError(t, s.Join(Player{ID: "p1", Name: "robot"}))
	require.NoError(t, s.Join(Player{ID: "p2", Name: "insect"}))

	require.Len(t, s.Players, 2)
	assert.Equal(t, "p1", s.Players[0].ID)
	assert.Equal(t, "p2", s.Players[1].ID)
}

func TestJoin_DuplicatePlayer(t *testing.T) {
	s := newSession("s")
	require.NoError(t, s.Join(Player{ID: "p1"}))

	requireRejected(t, s, ErrDuplicatePlayer, func(s *Session) error {
		return s.Join(Player{ID: "p1", Name: "again"})
	})
}

func TestJoin_EmptyID(t *testing.T) {
	requireRejected(t, newSession("s"), ErrMalformedPayload, func(s *Session) error {
		return s.Join(Player{Name: "nobody"})
	})
}

func TestModifyPlayer(t *testing.T) {
	s := newSession("s")
	require.NoError(t, s.Join(Player{ID: "p1", Name: "robot", Color: palette[0]}))

	require.NoError(t, s.ModifyPlayer(Player{ID: "p1"}, Player{Name: "mammal"}))

	p, ok := s.Player("p1")
	require.True(t, ok)
	assert.Equal(t, "mammal", p.Name)
	assert.Equal(t, palette[0], p.Color, "empty color keeps the current one")

	require.NoError(t, s.ModifyPlayer(Player{ID: "p1"}, Player{ID: "p1", Color: palette[3]}))
	p, _ = s.Player("p1")
	assert.Equal(t, "mammal", p.Name)
	assert.Equal(t, palette[3], p.Color)
}

func TestModifyPlayer_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		from, to Player
		want     Fault
	}{
		{
			name: "not a member",
			from: Player{ID: "ghost"},
			to:   Player{Name: "boo"},
			want: ErrNotFound,
		},
		{
			name: "identity change",
			from: Player{ID: "p1"},
			to:   Player{ID: "p2", Name: "impostor"},
			want: ErrUnauthorized,
		},
		{
			name: "color outside palette",
			from: Player{ID: "p1"},
			to:   Player{Color: "#123456"},
			want: ErrMalformedPayload,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession("s")
			require.NoError(t, s.Join(Player{ID: "p1", Name: "robot"}))

			requireRejected(t, s, tc.want, func(s *Session) error {
				return s.ModifyPlayer(tc.from, tc.to)
			})
		})
	}
}

func TestAddWord(t *testing.T) {
	s := newSession("s")
	require.NoError(t, s.Join(Player{ID: "p1"}))

	require.NoError(t, s.AddWord(genuineWord("kit", "p1")))
	require.NoError(t, s.AddWord(genuineWord("quena", "p1")))

	require.Len(t, s.Words, 2)
	assert.Equal(t, "kit", s.Words[0].ID)
	assert.Equal(t, "quena", s.Words[1].ID)
	assert.NotNil(t, s.Words[0].Voters)
	assert.NotNil(t, s.Words[0].Definitions[0].Votes)
	require.NoError(t, s.Check())
}

func TestAddWord_Rejections(t *testing.T) {
	cases := []struct {
		name string
		word func() Word
		want Fault
	}{
		{
			name: "no definitions",
			word: func() Word {
				w := genuineWord("bar", "p1")
				w.Definitions = nil
				return w
			},
			want: ErrInvalidWord,
		},
		{
			name: "two definitions",
			word: func() Word {
				w := genuineWord("bar", "p1")
				w.Definitions = append(w.Definitions, Definition{ID: "x", Text: "x", Author: ref("p2")})
				return w
			},
			want: ErrInvalidWord,
		},
		{
			name: "definition by someone else",
			word: func() Word {
				w := genuineWord("bar", "p1")
				w.Definitions[0].Author = ref("p2")
				return w
			},
			want: ErrInvalidWord,
		},
		{
			name: "empty text",
			word: func() Word {
				w := genuineWord("bar", "p1")
				w.Text = ""
				return w
			},
			want: ErrInvalidWord,
		},
		{
			name: "arrives with votes",
			word: func() Word {
				w := genuineWord("bar", "p1")
				w.Definitions[0].Votes = []PlayerRef{ref("p2")}
				w.Voters = []PlayerRef{ref("p2")}
				return w
			},
			want: ErrInvalidWord,
		},
		{
			name: "reused id",
			word: func() Word { return genuineWord("kit", "p2") },
			want: ErrInvalidWord,
		},
		{
			name: "author not in session",
			word: func() Word { return genuineWord("bar", "ghost") },
			want: ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession("s")
			require.NoError(t, s.Join(Player{ID: "p1"}))
			require.NoError(t, s.Join(Player{ID: "p2"}))
			require.NoError(t, s.AddWord(genuineWord("kit", "p1")))

			requireRejected(t, s, tc.want, func(s *Session) error {
				return s.AddWord(tc.word())
			})
		})
	}
}

func TestAddDefinition_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		wordID string
		def    Definition
		want   Fault
	}{
		{
			name:   "word author adds a second definition",
			wordID: "bar",
			def:    Definition{ID: "d9", Text: "another", Author: ref("p1")},
			want:   ErrUnauthorized,
		},
		{
			name:   "second decoy by the same author",
			wordID: "bar",
			def:    Definition{ID: "d9", Text: "another", Author: ref("p2")},
			want:   ErrDuplicateAuthor,
		},
		{
			name:   "unknown word",
			wordID: "baz",
			def:    Definition{ID: "d9", Text: "another", Author: ref("p2")},
			want:   ErrNotFound,
		},
		{
			name:   "author not in session",
			wordID: "bar",
			def:    Definition{ID: "d9", Text: "another", Author: ref("ghost")},
			want:   ErrNotFound,
		},
		{
			name:   "empty text",
			wordID: "bar",
			def:    Definition{ID: "d9", Author: ref("p2")},
			want:   ErrMalformedPayload,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireRejected(t, barSession(t), tc.want, func(s *Session) error {
				return s.AddDefinition(tc.wordID, tc.def)
			})
		})
	}
}

func TestAddVote(t *testing.T) {
	s := barSession(t)

	require.NoError(t, s.AddVote("bar", "d1", "p2"))

	w, ok := s.Word("bar")
	require.True(t, ok)
	assert.Equal(t, []PlayerRef{ref("p2")}, w.Voters)
	assert.Equal(t, []PlayerRef{ref("p2")}, w.Definitions[0].Votes)
	require.NoError(t, s.Check())
}

func TestAddVote_SelfVote(t *testing.T) {
	requireRejected(t, barSession(t), ErrSelfVote, func(s *Session) error {
		return s.AddVote("bar", "d2", "p1")
	})
}

func TestAddVote_DuplicateVote(t *testing.T) {
	s := barSession(t)
	require.NoError(t, s.AddVote("bar", "d3", "p2"))

	requireRejected(t, s, ErrDuplicateVote, func(s *Session) error {
		return s.AddVote("bar", "d1", "p2")
	})
}

func TestAddVote_NotFound(t *testing.T) {
	s := barSession(t)

	requireRejected(t, s, ErrNotFound, func(s *Session) error { return s.AddVote("baz", "d1", "p2") })
	requireRejected(t, s, ErrNotFound, func(s *Session) error { return s.AddVote("bar", "d9", "p2") })
	requireRejected(t, s, ErrNotFound, func(s *Session) error { return s.AddVote("bar", "d1", "ghost") })
}

func TestModifyWord(t *testing.T) {
	s := barSession(t)
	require.NoError(t, s.AddVote("bar", "d2", "p3"))

	to := Word{
		ID:          "bar",
		Text:        "BAR",
		Definitions: []Definition{{Text: "a unit of pressure", Author: ref("p1")}},
	}
	require.NoError(t, s.ModifyWord("p1", to))

	w, _ := s.Word("bar")
	assert.Equal(t, "BAR", w.Text)
	assert.Equal(t, "a unit of pressure", w.Definitions[0].Text)
	assert.Len(t, w.Definitions, 3, "decoys are kept")
	assert.Equal(t, []PlayerRef{ref("p3")}, w.Voters, "votes are kept")
	require.NoError(t, s.Check())
}

func TestModifyWord_Rejections(t *testing.T) {
	s := barSession(t)

	requireRejected(t, s, ErrUnauthorized, func(s *Session) error {
		return s.ModifyWord("p2", Word{ID: "bar", Text: "mine now"})
	})
	requireRejected(t, s, ErrNotFound, func(s *Session) error {
		return s.ModifyWord("p1", Word{ID: "baz", Text: "baz"})
	})
	requireRejected(t, s, ErrInvalidWord, func(s *Session) error {
		return s.ModifyWord("p1", Word{ID: "bar"})
	})
	requireRejected(t, s, ErrInvalidWord, func(s *Session) error {
		return s.ModifyWord("p1", Word{ID: "bar", Text: "bar", Author: ref("p2")})
	})
}

func TestDeleteWord(t *testing.T) {
	s := barSession(t)

	requireRejected(t, s, ErrUnauthorized, func(s *Session) error { return s.DeleteWord("p2", "bar") })
	requireRejected(t, s, ErrNotFound, func(s *Session) error { return s.DeleteWord("p1", "baz") })

	require.NoError(t, s.DeleteWord("p1", "bar"))
	assert.Empty(t, s.Words)
}

func TestLeave(t *testing.T) {
	s := barSession(t)

	empty, err := s.Leave("p2")
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Len(t, s.Words[0].Definitions, 3, "definitions outlive their author's membership")

	_, err = s.Leave("p2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Leave("p1")
	require.NoError(t, err)
	empty, err = s.Leave("p3")
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestJoin_ColorsStayDistinctAfterLeave(t *testing.T) {
	s := newSession("s")

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, applyCommand(s, "", Join{SessionID: "s", Player: Player{ID: id}}))
	}

	_, err := s.Leave("p1")
	require.NoError(t, err)

	require.NoError(t, applyCommand(s, "", Join{SessionID: "s", Player: Player{ID: "p4"}}))

	seen := make(map[string]string)
	for _, p := range s.Players {
		if other, ok := seen[p.Color]; ok {
			t.Fatalf("%s and %s share color %s", p.ID, other, p.Color)
		}
		seen[p.Color] = p.ID
	}

	p4, _ := s.Player("p4")
	assert.Equal(t, colorFor(3), p4.Color)
}

func TestCheck_DetectsCorruption(t *testing.T) {
	cases := []struct {
		name    string
		corrupt func(w *Word)
	}{
		{
			name:    "genuine definition missing",
			corrupt: func(w *Word) { w.Definitions = w.Definitions[1:] },
		},
		{
			name:    "two genuine definitions",
			corrupt: func(w *Word) { w.Definitions[1].Author = w.Author },
		},
		{
			name: "vote without voter",
			corrupt: func(w *Word) {
				w.Definitions[1].Votes = append(w.Definitions[1].Votes, ref("p3"))
			},
		},
		{
			name:    "voter without vote",
			corrupt: func(w *Word) { w.Voters = append(w.Voters, ref("p3")) },
		},
		{
			name: "double vote across definitions",
			corrupt: func(w *Word) {
				w.Definitions[2].Votes = append(w.Definitions[2].Votes, ref("p2"))
			},
		},
		{
			name:    "duplicate voter",
			corrupt: func(w *Word) { w.Voters = append(w.Voters, ref("p2")) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := barSession(t)
			require.NoError(t, s.AddVote("bar", "d1", "p2"))
			require.NoError(t, s.Check())

			tc.corrupt(&s.Words[0])

			assert.ErrorIs(t, s.Check(), ErrInvariantViolation)
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	s := barSession(t)
	c := s.Clone()

	require.NoError(t, c.AddVote("bar", "d1", "p2"))
	c.Players[0].Name = "changed"

	assert.Empty(t, s.Words[0].Voters)
	assert.Empty(t, s.Words[0].Definitions[0].Votes)
	assert.Equal(t, "p1", s.Players[0].Name)
	assert.Equal(t, s.joins, c.joins)
}
