package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_InvolvesAndBetween(t *testing.T) {
	m := Message{SenderID: "1", RecipientID: "2"}

	assert.True(t, m.Involves("1"))
	assert.True(t, m.Involves("2"))
	assert.False(t, m.Involves("3"))

	assert.True(t, m.Between("1", "2"))
	assert.True(t, m.Between("2", "1"))
	assert.False(t, m.Between("1", "3"))
}

func TestAckFrame_JSON(t *testing.T) {
	data, err := json.Marshal(AckFrame(101, 0))
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"ack","message_id":101,"fanout_count":0}`, string(data))
}

func TestErrorFrame_JSON(t *testing.T) {
	data, err := json.Marshal(ErrorFrame("message could not be stored"))
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"error","error":"message could not be stored"}`, string(data))
}
