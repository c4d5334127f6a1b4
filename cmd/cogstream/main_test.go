package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llitpux/cogstream/internal/model"
)

func TestChatIDFromUIDRoundTripsMessageUID(t *testing.T) {
	uid := model.MessageUID(482910, 77)
	chatID, err := chatIDFromUID(uid)
	assert.NoError(t, err)
	assert.Equal(t, int64(482910), chatID)
}

func TestChatIDFromUIDRejectsMalformedInput(t *testing.T) {
	_, err := chatIDFromUID("not-a-uid")
	assert.Error(t, err)

	_, err = chatIDFromUID("notanumber:77")
	assert.Error(t, err)
}
