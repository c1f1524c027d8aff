// SPDX-License-Identifier: Apache-2.0

package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

const caseIDLength = 32

// CaseID derives the stable identifier of the (user, capability) pair. The
// pair is hashed in RFC 8785 canonical form so that separators inside either
// value cannot make two pairs collide.
func CaseID(userID, capabilityID string) string {
	// Marshalling two strings always yields valid JSON, which always
	// canonicalizes.
	raw, _ := json.Marshal([2]string{userID, capabilityID})
	if canonical, err := jcs.Transform(raw); err == nil {
		raw = canonical
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:caseIDLength]
}
