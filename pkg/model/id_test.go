package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// big is above 2^53, where float64 stops holding every integer.
const big int64 = 1234567890123456789

func TestIDsEncodeAsStrings(t *testing.T) {
	last := big + 1
	raw, err := json.Marshal(Conversation{ID: big, LastMessageID: &last})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "1234567890123456789", fields["id"])
	assert.Equal(t, "1234567890123456790", fields["lastMessageId"])

	var back Conversation
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, big, back.ID)
	assert.Equal(t, last, *back.LastMessageID)

	raw, err = json.Marshal(Page{})
	require.NoError(t, err)
	var page Page
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Nil(t, page.NextCursor)
}

func TestIDAcceptsStringOrNumber(t *testing.T) {
	raw, err := json.Marshal([]ID{ID(big), 7})
	require.NoError(t, err)
	assert.JSONEq(t, `["1234567890123456789","7"]`, string(raw))

	var ids []ID
	require.NoError(t, json.Unmarshal([]byte(`["1234567890123456789", 7]`), &ids))
	assert.Equal(t, []int64{big, 7}, IDs(ids))

	var id ID
	assert.Error(t, json.Unmarshal([]byte(`"12x"`), &id))
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))
}
