// Package protocol maps the control channel onto the episode controller.
//
// Inbound topics carry a bare direction token (action) or anything at all
// (reset). The outbound state topic carries a StatePayload as JSON.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/chris-hoertnagl/deep-rl/episode"
	"github.com/chris-hoertnagl/deep-rl/game"
)

// StatePayload is the observation message sent after each processed action.
type StatePayload struct {
	RewardIndicators RewardIndicators `json:"rewardIndicators"`
	Observation      Observation      `json:"observation"`
	Done             bool             `json:"done"`
}

type RewardIndicators struct {
	Length int `json:"length"`
}

// Observation mixes raw coordinates (SnakeDots) with cell-normalized ones
// (food and head), as the controllers expect.
type Observation struct {
	FieldSize int      `json:"field_size"`
	SnakeDots [][2]int `json:"snake_dots"`
	FoodX     int      `json:"food_x"`
	FoodY     int      `json:"food_y"`
	HeadX     int      `json:"head_x"`
	HeadY     int      `json:"head_y"`
	Direction string   `json:"direction"`
}

// NewStatePayload builds the wire payload for a controller report.
func NewStatePayload(r episode.Report) StatePayload {
	s := r.Snapshot
	cs := s.Board.CellSize

	dots := make([][2]int, len(s.Body))
	for i, p := range s.Body {
		dots[i] = [2]int{p.X, p.Y}
	}
	food := s.Food.Cell(cs)
	head := s.Head().Cell(cs)

	return StatePayload{
		RewardIndicators: RewardIndicators{Length: s.Score()},
		Observation: Observation{
			FieldSize: s.Board.FieldSize(),
			SnakeDots: dots,
			FoodX:     food.X,
			FoodY:     food.Y,
			HeadX:     head.X,
			HeadY:     head.Y,
			Direction: string(s.Direction),
		},
		Done: r.Done,
	}
}

// EncodeState marshals the payload for r.
func EncodeState(r episode.Report) ([]byte, error) {
	b, err := json.Marshal(NewStatePayload(r))
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return b, nil
}

// DecodeState parses a state message published by the simulator.
func DecodeState(data []byte) (StatePayload, error) {
	var p StatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return StatePayload{}, fmt.Errorf("decode state: %w", err)
	}
	if p.Observation.FieldSize <= 0 || len(p.Observation.SnakeDots) == 0 {
		return StatePayload{}, fmt.Errorf("decode state: missing observation")
	}
	return p, nil
}

// DecodeAction reads an action payload. ok is false for anything that is not
// a direction token; such payloads still count as an action that keeps the
// current heading.
func DecodeAction(payload []byte) (game.Direction, bool) {
	return game.ParseDirection(string(payload))
}
