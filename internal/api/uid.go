package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// GenerateUID derives the bot-instance identifier sent as the UID header on
// login requests. It is random per process, not tied to the account.
func GenerateUID() string {
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		panic(err)
	}
	sum := sha256.Sum256([]byte("contact-bot-" + base64.StdEncoding.EncodeToString(seed)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
