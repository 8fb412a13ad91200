package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Tolerance is the replay window for timestamped signatures.
const Tolerance = 10 * time.Minute

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrStaleEvent   = errors.New("webhook timestamp outside tolerance")
	ErrMalformed    = errors.New("malformed signature header")
)

// VerifySignedTimestamp checks a header of the form "t=<unix>,v1=<hex>".
// The HMAC-SHA256 is computed over "{t}.{rawBody}" and compared in
// constant time against every v1 candidate in the header. The raw request
// bytes must be passed unmodified; re-serialized JSON will not match.
func VerifySignedTimestamp(secret string, header string, rawBody []byte, now time.Time) error {
	var ts int64
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrMalformed
			}
			ts = parsed
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == 0 || len(candidates) == 0 {
		return ErrMalformed
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > Tolerance || age < -Tolerance {
		return ErrStaleEvent
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		sig, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrBadSignature
}

// VerifyBodyHMAC checks a hex HMAC-SHA256 of the raw body against the
// signature header.
func VerifyBodyHMAC(secret string, header string, rawBody []byte) error {
	sig, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return ErrMalformed
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyStaticHash compares the header against a pre-shared hash value in
// constant time.
func VerifyStaticHash(hash string, header string) error {
	if hash == "" {
		return ErrBadSignature
	}
	if subtleEqual(hash, strings.TrimSpace(header)) {
		return nil
	}
	return ErrBadSignature
}

func subtleEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
