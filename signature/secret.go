package signature

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/xraph/payhook/id"
)

// GenerateSecret returns "whsec_" followed by 32 random bytes in hex.
// It panics only if the system random source fails.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("signature: read random secret: " + err.Error())
	}
	return string(id.PrefixSecret) + "_" + hex.EncodeToString(b)
}
