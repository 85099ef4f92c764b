package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponseMatrixOrdering(t *testing.T) {
	m, err := NewResponseMatrix([]string{"p3", "p1"}, nil, []Response{
		{ParticipantID: "p1", ItemID: "i2", Value: 1},
		{ParticipantID: "p2", ItemID: "i1", Value: 0},
		{ParticipantID: "p3", ItemID: "i1", Value: 0.5},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"p3", "p1", "p2"}, m.ParticipantIDs())
	assert.Equal(t, []string{"i2", "i1"}, m.ItemIDs())
	assert.Equal(t, 3, m.NumResponses())

	i1, ok := m.ItemIndex("i1")
	require.True(t, ok)
	assert.Len(t, m.ItemResponses(i1), 2)

	p3, ok := m.ParticipantIndex("p3")
	require.True(t, ok)
	v, ok := m.Value(p3, i1)
	require.True(t, ok)
	assert.Equal(t, 0.5, v)
}

func TestNewResponseMatrixDeclaredParticipantWithoutResponses(t *testing.T) {
	m, err := NewResponseMatrix([]string{"p1", "ghost"}, nil, []Response{{ParticipantID: "p1", ItemID: "i1", Value: 1}})
	require.NoError(t, err)

	ghost, ok := m.ParticipantIndex("ghost")
	require.True(t, ok, "ghost participant should be declared")
	assert.Empty(t, m.ParticipantResponses(ghost))
}

func TestNewResponseMatrixRejectsMalformedInput(t *testing.T) {
	cases := map[string]struct {
		participants []string
		responses    []Response
	}{
		"empty":         {},
		"out of range":  {responses: []Response{{ParticipantID: "p", ItemID: "i", Value: 1.5}}},
		"empty id":      {responses: []Response{{ParticipantID: "", ItemID: "i", Value: 1}}},
		"duplicate":     {responses: []Response{{ParticipantID: "p", ItemID: "i", Value: 1}, {ParticipantID: "p", ItemID: "i", Value: 0}}},
		"duplicate ids": {participants: []string{"p", "p"}, responses: []Response{{ParticipantID: "p", ItemID: "i", Value: 1}}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewResponseMatrix(tc.participants, nil, tc.responses)
			assert.ErrorIs(t, err, ErrInvalidMatrix)
		})
	}
}
