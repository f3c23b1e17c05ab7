package crypto

import "runtime"

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// Wipe zeroes the private key. A wiped key pair can no longer seal or open.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	Wipe(kp.Private[:])
}
