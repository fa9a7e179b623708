package key

import "encoding/hex"

func decodeHexKey(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
