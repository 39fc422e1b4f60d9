package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CommandHash returns a stable sha256 over the raw command text and its
// parsed argv.
func CommandHash(raw string, argv []string) string {
	h := sha256.New()
	h.Write([]byte(raw))
	h.Write([]byte("\n"))
	if len(argv) > 0 {
		argvJSON, _ := json.Marshal(argv)
		h.Write(argvJSON)
	}
	return hex.EncodeToString(h.Sum(nil))
}
