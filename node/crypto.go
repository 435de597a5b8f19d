package node

import "github.com/fieldmesh/overlay/crypto"

// sealPayload seals frame with cipher when encryption is enabled,
// otherwise it returns frame unchanged. Sealing only ever happens once,
// at the node that introduces a frame to the mesh (TAP ingress); every
// relaying hop forwards the already-sealed bytes untouched.
func sealPayload(cipher *crypto.Cipher, frame []byte) ([]byte, error) {
	if cipher == nil {
		return frame, nil
	}
	return cipher.Seal(frame)
}

// openPayload opens payload with cipher when encryption is enabled,
// otherwise it returns payload unchanged. ok is false when the AEAD
// check failed and the caller must drop the message rather than act on
// whatever Open returned.
func openPayload(cipher *crypto.Cipher, payload []byte) (plain []byte, ok bool) {
	if cipher == nil {
		return payload, true
	}
	opened, err := cipher.Open(payload)
	if err != nil {
		return nil, false
	}
	return opened, true
}
