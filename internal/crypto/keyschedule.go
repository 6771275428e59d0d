package crypto

import "fmt"

// Sub-key layouts. Order and sizes are part of the envelope protocol and must match
// between encryption and decryption.
var (
	layoutV1 = []int{32, 64}              // key, macKey
	layoutV2 = []int{32}                  // key
	layoutV3 = []int{32, 32, 64, 128, 64} // key, key2, macKey, key3, macKey2
)

const (
	v3Key = iota
	v3Key2
	v3MacKey
	v3Key3
	v3MacKey2
)

// PasswordHashSize is the length of the login verifier. No envelope version derives this
// many bytes, and Argon2id binds the output length into its state, so the verifier never
// equals a prefix of any encryption key.
const PasswordHashSize = 64

func layoutSize(layout []int) int {
	n := 0
	for _, size := range layout {
		n += size
	}
	return n
}

// KeySchedule slices one derived buffer into consecutive sub-keys. The sub-keys are views
// into the owned material, so a single Destroy wipes all of them.
type KeySchedule struct {
	material *SecureBytes
	keys     [][]byte
}

// SplitKeys takes ownership of material and cuts it according to layout.
func SplitKeys(material *SecureBytes, layout []int) (*KeySchedule, error) {
	if material.Len() != layoutSize(layout) {
		n := material.Len()
		material.Destroy()
		return nil, backendError("key-schedule", fmt.Errorf("derived %d bytes, layout needs %d", n, layoutSize(layout)))
	}

	ks := &KeySchedule{material: material.Move(), keys: make([][]byte, len(layout))}
	buf := ks.material.Bytes()
	off := 0
	for i, size := range layout {
		ks.keys[i] = buf[off : off+size : off+size]
		off += size
	}
	return ks, nil
}

// Key returns sub-key i.
func (k *KeySchedule) Key(i int) []byte {
	return k.keys[i]
}

// Destroy wipes the whole schedule.
func (k *KeySchedule) Destroy() {
	if k == nil {
		return
	}
	k.material.Destroy()
	k.keys = nil
}
