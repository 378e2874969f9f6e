package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Digest identifies a normalized configuration. encoding/json sorts map keys,
// so equal configs always produce equal digests.
func (c GGConfig) Digest() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
