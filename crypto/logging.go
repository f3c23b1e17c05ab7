package crypto

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

// keyPreviewLen is how many leading key bytes are shown in log fields.
const keyPreviewLen = 8

// logFor returns an entry tagged with the crypto package and the calling
// operation.
func logFor(op string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"package": "crypto",
		"op":      op,
	})
}

// KeyFields renders a public key as loggable fields. Only a short prefix is
// included so log lines identify a peer without carrying the whole key.
func KeyFields(name string, key []byte) logrus.Fields {
	preview := "none"
	if len(key) > 0 {
		n := min(len(key), keyPreviewLen)
		preview = hex.EncodeToString(key[:n])
		if len(key) > n {
			preview += "~"
		}
	}
	return logrus.Fields{
		name:           preview,
		name + "_len": len(key),
	}
}
