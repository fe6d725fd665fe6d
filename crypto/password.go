package crypto

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
)

// saltAlphabet is the 64-character set the source salt bytes are mapped
// into; kept identical to the original so digests remain interchangeable
// with the management UI's saved values (out of scope here, but the
// format is part of the on-disk contract).
const saltAlphabet = "0123456789" +
	"abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"./"

const saltLen = 8

// SSha1 produces a salted SHA-1 password digest in the form
// "{" + hex(SHA1(pass||salt)) + salt, matching the format used by the
// management UI's password storage.
func SSha1(pass string) string {
	salt := make([]byte, saltLen)
	rand.Read(salt)
	for i, b := range salt {
		salt[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}

	return ssha1With(pass, salt)
}

func ssha1With(pass string, salt []byte) string {
	h := sha1.New()
	h.Write([]byte(pass))
	h.Write(salt)
	sum := h.Sum(nil)

	buf := make([]byte, 0, 1+2*sha1.Size+saltLen)
	buf = append(buf, '{')
	buf = append(buf, []byte(hex.EncodeToString(sum))...)
	buf = append(buf, salt...)
	return string(buf)
}

// SSha1Matches reparses the salt from a stored digest (by length
// arithmetic) and recomputes it over pass, reporting whether they match.
func SSha1Matches(source, pass string) bool {
	const prefixLen = 1 + 2*sha1.Size
	if len(source) < prefixLen {
		return false
	}

	salt := []byte(source[prefixLen:])
	return ssha1With(pass, salt) == source
}
