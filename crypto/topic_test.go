package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicOf(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.Equal(t, TopicOf(a.Public), TopicOf(a.Public), "topic must be deterministic")
	assert.NotEqual(t, TopicOf(a.Public), TopicOf(b.Public))
	assert.Len(t, TopicOf(a.Public).String(), TopicSize*2)
}

func TestParseTopicID(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	topic := TopicOf(kp.Public)

	parsed, err := ParseTopicID(topic.String())
	require.NoError(t, err)
	assert.Equal(t, topic, parsed)

	_, err = ParseTopicID("abcd")
	assert.Error(t, err)
	_, err = ParseTopicID("not hex")
	assert.Error(t, err)
}
