// Package crypto implements the cryptographic primitives used by peerlink
// channels.
//
// The package provides three things:
//
//   - [KeyPair]: a Curve25519 key pair identifying a party
//   - [Cipher]: authenticated encryption of opaque payloads between two key
//     pairs, with [BoxCipher] (NaCl box) as the default and [NoiseXCipher]
//     (one Noise X handshake message per payload) as an alternative
//   - [TopicID]: the fixed-length discovery rendezvous identifier derived from
//     a public key with [TopicOf]
//
// # Sealing and Opening
//
//	alice, _ := crypto.GenerateKeyPair()
//	bob, _ := crypto.GenerateKeyPair()
//
//	var c crypto.BoxCipher
//	ct, err := c.Seal([]byte("hello"), bob.Public, alice)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pt, err := c.Open(ct, alice.Public, bob)
//	if errors.Is(err, crypto.ErrAuthentication) {
//	    // tampered, truncated, or sealed by someone else
//	}
//
// Open fails with an error wrapping [ErrAuthentication] whenever the payload
// cannot be authenticated, so callers can tell a hostile or corrupt sender
// apart from a programming error.
//
// # Topics
//
// A topic is the BLAKE2b-160 digest of the hex-encoded public key. Both sides
// of a channel compute the same topic for the same key, which is what lets
// discovery act as a rendezvous:
//
//	topic := crypto.TopicOf(bob.Public)
//	fmt.Println(topic) // 40 hex characters
package crypto
