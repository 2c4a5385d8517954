// Package credential provides weak, machine-bound obfuscation for secrets
// persisted in the session/connection store. It prevents casual disclosure
// of the on-disk database — it is not a cryptographic guarantee.
package credential

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
)

// Store encrypts and decrypts secrets with a key derived from this
// machine's identity. The same Store instance decrypts only what it (or
// another instance on the same machine, as the same user) encrypted.
type Store struct {
	key [sha256.Size]byte
}

// New builds a Store keyed off the local hostname, machine id, and
// username. A strong implementation may substitute an OS keychain behind
// the same two-method interface.
func New() *Store {
	return &Store{key: machineKey()}
}

func machineKey() [sha256.Size]byte {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "default"
	}
	combined := hostname + "|" + machineID() + "|" + user
	return sha256.Sum256([]byte(combined))
}

// machineID returns a best-effort machine identifier. It deliberately has
// no dependency on platform-specific machine-id files so the package stays
// portable; hostname plus GOARCH/GOOS is sufficient entropy for the stated
// "prevent casual disclosure" threat model.
func machineID() string {
	return runtimeIdentifier()
}

// Encrypt returns a base64-encoded, XOR-obfuscated form of plain. An empty
// input returns an empty string.
func (s *Store) Encrypt(plain string) string {
	if plain == "" {
		return ""
	}
	data := xorBytes([]byte(plain), s.key[:])
	return base64.StdEncoding.EncodeToString(data)
}

// Decrypt reverses Encrypt. Any failure (bad base64, corrupted data)
// returns an empty string rather than an error — a moved or corrupted
// store must not crash the caller; the subsequent connection attempt
// using the empty credential fails cleanly downstream.
func (s *Store) Decrypt(encrypted string) string {
	if encrypted == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return ""
	}
	return string(xorBytes(raw, s.key[:]))
}

func xorBytes(data, key []byte) []byte {
	out := make([]byte, len(data))
	klen := len(key)
	for i := range data {
		out[i] = data[i] ^ key[i%klen]
	}
	return out
}
