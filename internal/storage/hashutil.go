package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// computeVersionID derives a stamp for backends that do not assign their own.
func computeVersionID(bucket, key string, body []byte, ts time.Time) string {
	payload := strings.Join([]string{
		bucket,
		key,
		ts.Format(time.RFC3339Nano),
		string(body),
	}, "\n")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:16])
}
