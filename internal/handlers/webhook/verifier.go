package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/kevin07696/billing-service/pkg/timeutil"
)

// Replay window for webhook timestamps. Anything staler than this is
// rejected even with a correct signature.
const maxTimestampSkew = 300 * time.Second

// Verifier authenticates inbound webhooks with a pre-shared secret. The
// secret is injected per instance so environments and tests can substitute
// their own; there is no process-global secret state.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for the given webhook secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: timeutil.Now}
}

// Verify authenticates a webhook delivery: the timestamp must be a unix
// epoch within the replay window, and the signature must be the
// base64-encoded HMAC-SHA256 of "timestamp.payload" under the shared
// secret. Every parse or crypto failure verifies as false, never panics.
func (v *Verifier) Verify(payload, signature, timestamp string) bool {
	if signature == "" || timestamp == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp + "." + payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return expected == signature
}
