package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

func TestRetryPolicyFromConfig(t *testing.T) {
	p := retryPolicy(config.WorkflowConfig{
		DispatchMaxAttempts:    7,
		DispatchInitialBackoff: time.Minute,
		DispatchMaxBackoff:     time.Hour,
	})
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, time.Minute, p.InitialBackoff)
	assert.Equal(t, time.Hour, p.MaxBackoff)

	// Zero values fall back to defaults.
	p = retryPolicy(config.WorkflowConfig{})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.InitialBackoff)
}

func TestBuildTransportsCoversAllChannels(t *testing.T) {
	transports := buildTransports(config.ChannelsConfig{})
	require.Len(t, transports, 3)

	seen := map[meeting.Channel]bool{}
	for _, tr := range transports {
		seen[tr.Channel()] = true
	}
	assert.True(t, seen[meeting.ChannelChat])
	assert.True(t, seen[meeting.ChannelSMS])
	assert.True(t, seen[meeting.ChannelEmail])
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "", channelNames(nil))
	assert.Equal(t, "chat,sms", channelNames([]meeting.Channel{meeting.ChannelChat, meeting.ChannelSMS}))
}
