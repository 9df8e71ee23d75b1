package alerts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the deduplication key of a condition.
func Fingerprint(agentName, category, route, conditionKind string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{agentName, category, route, conditionKind}, "|")))
	return hex.EncodeToString(sum[:16])
}

// FingerprintKey is the readable agent/route/condition form shown to operators.
func FingerprintKey(agentName, route, conditionKind string) string {
	return agentName + "/" + route + "/" + conditionKind
}
