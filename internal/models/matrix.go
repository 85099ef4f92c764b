package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMatrix is returned when response data cannot form a ResponseMatrix.
var ErrInvalidMatrix = errors.New("invalid response matrix")

// Response is a single observed (participant, item) answer.
type Response struct {
	ParticipantID string
	ItemID        string
	Value         float64
}

// Observation is a response addressed by matrix positions rather than identifiers.
type Observation struct {
	Participant int
	Item        int
	Value       float64
}

// ResponseMatrix is a sparse participant-by-item table of responses in [0,1].
// Missing entries are absent rather than zero. It is read-only once built and
// safe for concurrent readers.
type ResponseMatrix struct {
	participants []string
	items        []string

	participantIndex map[string]int
	itemIndex        map[string]int

	byItem        [][]Observation
	byParticipant [][]Observation
	count         int
}

// NewResponseMatrix builds a matrix from raw responses. The participant and item
// lists are optional: when provided they fix the ordering and may declare
// entities without any responses; identifiers only seen in responses are
// appended in first-seen order.
func NewResponseMatrix(participants, items []string, responses []Response) (*ResponseMatrix, error) {
	if len(responses) == 0 {
		return nil, fmt.Errorf("%w: no responses", ErrInvalidMatrix)
	}

	m := &ResponseMatrix{
		participantIndex: make(map[string]int, len(participants)),
		itemIndex:        make(map[string]int, len(items)),
	}
	for _, id := range participants {
		if err := m.declare(id, &m.participants, m.participantIndex, "participant"); err != nil {
			return nil, err
		}
	}
	for _, id := range items {
		if err := m.declare(id, &m.items, m.itemIndex, "item"); err != nil {
			return nil, err
		}
	}

	seen := make(map[[2]int]struct{}, len(responses))
	observations := make([]Observation, 0, len(responses))
	for _, r := range responses {
		if r.ParticipantID == "" || r.ItemID == "" {
			return nil, fmt.Errorf("%w: response with empty identifier", ErrInvalidMatrix)
		}
		if math.IsNaN(r.Value) || r.Value < 0 || r.Value > 1 {
			return nil, fmt.Errorf("%w: response %s/%s value %v outside [0,1]", ErrInvalidMatrix, r.ParticipantID, r.ItemID, r.Value)
		}
		p := m.lookupOrAppend(r.ParticipantID, &m.participants, m.participantIndex)
		i := m.lookupOrAppend(r.ItemID, &m.items, m.itemIndex)
		key := [2]int{p, i}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate response for %s/%s", ErrInvalidMatrix, r.ParticipantID, r.ItemID)
		}
		seen[key] = struct{}{}
		observations = append(observations, Observation{Participant: p, Item: i, Value: r.Value})
	}

	m.byItem = make([][]Observation, len(m.items))
	m.byParticipant = make([][]Observation, len(m.participants))
	for _, obs := range observations {
		m.byItem[obs.Item] = append(m.byItem[obs.Item], obs)
		m.byParticipant[obs.Participant] = append(m.byParticipant[obs.Participant], obs)
	}
	m.count = len(observations)
	return m, nil
}

func (m *ResponseMatrix) declare(id string, ids *[]string, index map[string]int, kind string) error {
	if id == "" {
		return fmt.Errorf("%w: empty %s identifier", ErrInvalidMatrix, kind)
	}
	if _, ok := index[id]; ok {
		return fmt.Errorf("%w: duplicate %s identifier %q", ErrInvalidMatrix, kind, id)
	}
	index[id] = len(*ids)
	*ids = append(*ids, id)
	return nil
}

func (m *ResponseMatrix) lookupOrAppend(id string, ids *[]string, index map[string]int) int {
	if pos, ok := index[id]; ok {
		return pos
	}
	pos := len(*ids)
	index[id] = pos
	*ids = append(*ids, id)
	return pos
}

// NumParticipants returns the number of participants, including those without responses.
func (m *ResponseMatrix) NumParticipants() int { return len(m.participants) }

// NumItems returns the number of items, including those without responses.
func (m *ResponseMatrix) NumItems() int { return len(m.items) }

// NumResponses returns the number of observed entries.
func (m *ResponseMatrix) NumResponses() int { return m.count }

// ParticipantIDs returns a copy of the participant ordering.
func (m *ResponseMatrix) ParticipantIDs() []string {
	return append([]string(nil), m.participants...)
}

// ItemIDs returns a copy of the item ordering.
func (m *ResponseMatrix) ItemIDs() []string {
	return append([]string(nil), m.items...)
}

// ParticipantIndex resolves a participant identifier to its position.
func (m *ResponseMatrix) ParticipantIndex(id string) (int, bool) {
	pos, ok := m.participantIndex[id]
	return pos, ok
}

// ItemIndex resolves an item identifier to its position.
func (m *ResponseMatrix) ItemIndex(id string) (int, bool) {
	pos, ok := m.itemIndex[id]
	return pos, ok
}

// ItemResponses returns the observations for one item. The slice is shared and must not be modified.
func (m *ResponseMatrix) ItemResponses(item int) []Observation {
	return m.byItem[item]
}

// ParticipantResponses returns the observations for one participant. The slice is shared and must not be modified.
func (m *ResponseMatrix) ParticipantResponses(participant int) []Observation {
	return m.byParticipant[participant]
}

// Value looks up a single response.
func (m *ResponseMatrix) Value(participant, item int) (float64, bool) {
	if participant < 0 || participant >= len(m.byParticipant) {
		return 0, false
	}
	for _, obs := range m.byParticipant[participant] {
		if obs.Item == item {
			return obs.Value, true
		}
	}
	return 0, false
}
