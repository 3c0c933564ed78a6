package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
)

// signer produces Binance request signatures. The signature is an
// HMAC-SHA256 over the canonical query encoding of the parameters
// (url.Values.Encode, which orders keys alphabetically) including the
// timestamp and recvWindow; any reordering of that byte serialization
// invalidates it. The secret is read-only after construction.
type signer struct {
	secret     []byte
	clock      clock.Clock
	recvWindow time.Duration
}

func newSigner(secret string, clk clock.Clock, recvWindow time.Duration) *signer {
	return &signer{
		secret:     []byte(secret),
		clock:      clk,
		recvWindow: recvWindow,
	}
}

// sign returns a copy of params with timestamp, recvWindow and signature
// attached. The timestamp is read from the clock at call time, so signing
// must happen immediately before the transport send; signed parameter sets
// are never cached or reused.
func (s *signer) sign(params url.Values) url.Values {
	out := make(url.Values, len(params)+3)
	for k, vs := range params {
		out[k] = append([]string(nil), vs...)
	}
	out.Set("timestamp", strconv.FormatInt(s.clock.Now().UnixMilli(), 10))
	out.Set("recvWindow", strconv.FormatInt(s.recvWindow.Milliseconds(), 10))
	out.Set("signature", signature(s.secret, out.Encode()))
	return out
}

// signature is the pure MAC: identical payloads always produce identical
// output.
func signature(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
