/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Event names, shared by both directions of the socket.
const (
	EventIDStatus      = "idstatus"
	EventJoin          = "join"
	EventModifyPlayer  = "modify_player"
	EventAddWord       = "add_word"
	EventAddDefinition = "add_definition"
	EventAddVote       = "add_vote"
	EventModifyWord    = "modify_word"
	EventDeleteWord    = "delete_word"
	EventSession       = "session"
	EventError         = "error"
)

// Envelope is every frame on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Reply is the payload of every server frame: the request it answers (null
// for broadcasts), the result, and the failure if there was one.
type Reply struct {
	Req json.RawMessage `json:"req"`
	Res json.RawMessage `json:"res"`
	Err *ReplyError     `json:"err,omitempty"`
}

type ReplyError struct {
	Kind    Fault  `json:"kind"`
	Message string `json:"message"`
}

type ModifyPlayerPayload struct {
	ID   string `json:"id"`
	From Player `json:"from"`
	To   Player `json:"to"`
}

type AddWordPayload struct {
	ID   string `json:"id"`
	Word Word   `json:"word"`
}

type AddDefinitionPayload struct {
	ID         string     `json:"id"`
	Word       Word       `json:"word"`
	Definition Definition `json:"definition"`
}

type AddVotePayload struct {
	ID         string     `json:"id"`
	Word       Word       `json:"word"`
	Definition Definition `json:"definition"`
	Voter      Player     `json:"voter"`
}

type ModifyWordPayload struct {
	ID   string `json:"id"`
	From Word   `json:"from"`
	To   Word   `json:"to"`
}

type DeleteWordPayload struct {
	ID   string `json:"id"`
	Word Word   `json:"word"`
}

// Command is a decoded inbound event.
type Command interface {
	isCommand()
	sessionID() string
}

type IDStatus struct{ SessionID string }

type Join struct {
	SessionID string
	Player    Player
}

type ModifyPlayer struct {
	SessionID string
	From, To  Player
}

type AddWord struct {
	SessionID string
	Word      Word
}

type AddDefinition struct {
	SessionID  string
	WordID     string
	Definition Definition
}

type AddVote struct {
	SessionID    string
	WordID       string
	DefinitionID string
	VoterID      string
}

type ModifyWord struct {
	SessionID string
	Word      Word
}

type DeleteWord struct {
	SessionID string
	WordID    string
}

func (IDStatus) isCommand()      {}
func (Join) isCommand()          {}
func (ModifyPlayer) isCommand()  {}
func (AddWord) isCommand()       {}
func (AddDefinition) isCommand() {}
func (AddVote) isCommand()       {}
func (ModifyWord) isCommand()    {}
func (DeleteWord) isCommand()    {}

func (c IDStatus) sessionID() string      { return c.SessionID }
func (c Join) sessionID() string          { return c.SessionID }
func (c ModifyPlayer) sessionID() string  { return c.SessionID }
func (c AddWord) sessionID() string       { return c.SessionID }
func (c AddDefinition) sessionID() string { return c.SessionID }
func (c AddVote) sessionID() string       { return c.SessionID }
func (c ModifyWord) sessionID() string    { return c.SessionID }
func (c DeleteWord) sessionID() string    { return c.SessionID }

func malformed(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrMalformedPayload)...)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}

	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after payload")
	}

	return nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope

	if err := strictUnmarshal(data, &env); err != nil {
		return Envelope{}, malformed("decode envelope: %v", err)
	}

	if env.Event == "" {
		return Envelope{}, malformed("decode envelope: missing event")
	}

	return env, nil
}

// decodeCommand turns an envelope into exactly one Command variant. Missing
// required fields are rejected; ids the client left empty are generated.
func decodeCommand(env Envelope) (Command, error) {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, malformed("%s: missing payload", env.Event)
	}

	switch env.Event {
	case EventIDStatus:
		var id string
		if err := strictUnmarshal(env.Payload, &id); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if id == "" {
			return nil, malformed("%s: empty session id", env.Event)
		}

		return IDStatus{SessionID: id}, nil

	case EventJoin:
		var guess Session
		if err := strictUnmarshal(env.Payload, &guess); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if guess.ID == "" {
			return nil, malformed("%s: empty session id", env.Event)
		}
		if len(guess.Players) != 1 {
			return nil, malformed("%s: want exactly 1 player, got %d", env.Event, len(guess.Players))
		}

		p := guess.Players[0]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}

		return Join{SessionID: guess.ID, Player: p}, nil

	case EventModifyPlayer:
		var p ModifyPlayerPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if p.ID == "" || p.From.ID == "" {
			return nil, malformed("%s: missing session or player id", env.Event)
		}

		return ModifyPlayer{SessionID: p.ID, From: p.From, To: p.To}, nil

	case EventAddWord:
		var p AddWordPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if p.ID == "" || p.Word.Author.ID == "" {
			return nil, malformed("%s: missing session id or author", env.Event)
		}

		if p.Word.ID == "" {
			p.Word.ID = uuid.NewString()
		}
		for i := range p.Word.Definitions {
			if p.Word.Definitions[i].ID == "" {
				p.Word.Definitions[i].ID = uuid.NewString()
			}
		}

		return AddWord{SessionID: p.ID, Word: p.Word}, nil

	case EventAddDefinition:
		var p AddDefinitionPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if p.ID == "" || p.Word.ID == "" || p.Definition.Author.ID == "" {
			return nil, malformed("%s: missing session, word or author", env.Event)
		}

		if p.Definition.ID == "" {
			p.Definition.ID = uuid.NewString()
		}

		return AddDefinition{SessionID: p.ID, WordID: p.Word.ID, Definition: p.Definition}, nil

	case EventAddVote:
		var p AddVotePayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if p.ID == "" || p.Word.ID == "" || p.Definition.ID == "" || p.Voter.ID == "" {
			return nil, malformed("%s: missing session, word, definition or voter", env.Event)
		}

		return AddVote{SessionID: p.ID, WordID: p.Word.ID, DefinitionID: p.Definition.ID, VoterID: p.Voter.ID}, nil

	case EventModifyWord:
		var p ModifyWordPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if p.ID == "" || p.From.ID == "" {
			return nil, malformed("%s: missing session or word id", env.Event)
		}
		if p.To.ID != "" && p.To.ID != p.From.ID {
			return nil, malformed("%s: word id cannot change", env.Event)
		}

		p.To.ID = p.From.ID

		return ModifyWord{SessionID: p.ID, Word: p.To}, nil

	case EventDeleteWord:
		var p DeleteWordPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Event, err)
		}
		if p.ID == "" || p.Word.ID == "" {
			return nil, malformed("%s: missing session or word id", env.Event)
		}

		return DeleteWord{SessionID: p.ID, WordID: p.Word.ID}, nil

	default:
		return nil, malformed("unknown event %q", env.Event)
	}
}

// applyCommand runs a command against s on behalf of the player actor.
// Ownership is checked here; structural rules live on Session.
func applyCommand(s *Session, actor string, cmd Command) error {
	switch c := cmd.(type) {
	case Join:
		if err := s.Join(c.Player); err != nil {
			return err
		}

		return s.ModifyPlayer(c.Player, Player{Color: colorFor(s.joins - 1)})

	case ModifyPlayer:
		if !s.hasPlayer(c.From.ID) {
			return fmt.Errorf("modify player %q: %w", c.From.ID, ErrNotFound)
		}
		if c.From.ID != actor {
			return fmt.Errorf("modify player %q as %q: %w", c.From.ID, actor, ErrUnauthorized)
		}

		return s.ModifyPlayer(c.From, c.To)

	case AddWord:
		if c.Word.Author.ID != actor {
			return fmt.Errorf("add word as %q for %q: %w", actor, c.Word.Author.ID, ErrUnauthorized)
		}

		return s.AddWord(c.Word)

	case AddDefinition:
		if c.Definition.Author.ID != actor {
			return fmt.Errorf("add definition as %q for %q: %w", actor, c.Definition.Author.ID, ErrUnauthorized)
		}

		return s.AddDefinition(c.WordID, c.Definition)

	case AddVote:
		if c.VoterID != actor {
			return fmt.Errorf("add vote as %q for %q: %w", actor, c.VoterID, ErrUnauthorized)
		}

		return s.AddVote(c.WordID, c.DefinitionID, c.VoterID)

	case ModifyWord:
		return s.ModifyWord(actor, c.Word)

	case DeleteWord:
		return s.DeleteWord(actor, c.WordID)

	default:
		return fmt.Errorf("command %T does not mutate a session: %w", cmd, ErrMalformedPayload)
	}
}

// encodeFrame builds a server frame. res is marshalled as-is; a nil err
// leaves the err field out. Frames that answer an unreadable request go out
// as EventError.
func encodeFrame(event string, req json.RawMessage, res any, err error) ([]byte, error) {
	if event == "" {
		event = EventError
	}

	reply := Reply{Req: req}
	if reply.Req == nil {
		reply.Req = json.RawMessage("null")
	}

	if err != nil {
		reply.Res = json.RawMessage("null")
		reply.Err = &ReplyError{Kind: faultOf(err), Message: err.Error()}
	} else {
		data, mErr := json.Marshal(res)
		if mErr != nil {
			return nil, mErr
		}
		reply.Res = data
	}

	payload, mErr := json.Marshal(reply)
	if mErr != nil {
		return nil, mErr
	}

	return json.Marshal(Envelope{Event: event, Payload: payload})
}
