package crypto

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// TopicSize is the length of a discovery topic in bytes.
const TopicSize = 20

// TopicID is the discovery rendezvous identifier derived from a public key.
type TopicID [TopicSize]byte

// TopicOf derives the discovery topic for a public key. The digest is taken
// over the lowercase hex encoding of the key so that implementations which
// exchange keys as hex strings agree on the topic.
func TopicOf(publicKey [32]byte) TopicID {
	h, err := blake2b.New(TopicSize, nil)
	if err != nil {
		// blake2b only rejects sizes outside 1..64 or keys over 64 bytes.
		panic(err)
	}
	h.Write([]byte(hex.EncodeToString(publicKey[:])))

	var t TopicID
	copy(t[:], h.Sum(nil))
	return t
}

// String returns the hex encoding of the topic.
func (t TopicID) String() string {
	return hex.EncodeToString(t[:])
}

// ParseTopicID decodes a hex topic.
func ParseTopicID(s string) (TopicID, error) {
	var t TopicID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("parse topic: %w", err)
	}
	if len(raw) != TopicSize {
		return t, fmt.Errorf("parse topic: want %d bytes, got %d", TopicSize, len(raw))
	}
	copy(t[:], raw)
	return t, nil
}
