package common

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// AlphaNumeric is the alphabet used for generated passwords.
const AlphaNumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// MakeRandBase64String generates size random bytes and returns them encoded
// with the standard base64 alphabet.
func MakeRandBase64String(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// MakeRandString returns a string of length n drawn uniformly from alphabet.
//
// Bytes that would bias the distribution (values at or above the largest
// multiple of len(alphabet) that fits in a byte) are discarded and redrawn.
func MakeRandString(n int, alphabet string) (string, error) {
	if len(alphabet) == 0 || len(alphabet) > 256 {
		return "", errors.New("alphabet must contain 1..256 symbols")
	}
	limit := 256 - 256%len(alphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
