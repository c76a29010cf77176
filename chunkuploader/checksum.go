package chunkuploader

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"encoding/json"
	"strings"
)

// ChecksumHeader carries the locally computed digest of a part.
const ChecksumHeader = "X-Chunk-MD5"

// checksumResponseKeys are the fields a part acknowledgment may echo the server side digest in.
var checksumResponseKeys = []string{"md5", "server_md5", "checksum"}

// Checksum returns the lowercase hex MD5 digest of b.
func Checksum(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// echoedChecksum returns the digest found in a part acknowledgment, or "" if there is none.
func echoedChecksum(body []byte) string {
	var ack map[string]interface{}
	if err := json.Unmarshal(body, &ack); err != nil {
		return ""
	}
	for _, k := range checksumResponseKeys {
		if v, ok := ack[k].(string); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}
