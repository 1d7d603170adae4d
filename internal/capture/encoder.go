package capture

import "encoding/base64"

// Encode returns the standard, padded base64 form of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
