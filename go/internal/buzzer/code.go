package buzzer

import (
	"crypto/rand"
	"math/big"
)

const codeCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateCode returns a random upper-case base-36 code of the given length.
func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}
