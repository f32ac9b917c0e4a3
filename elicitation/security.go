package elicitation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// canonicalBytes serializes fields deterministically: keys are sorted and
// values are JSON-encoded, so the same logical payload always produces
// the same byte string regardless of map iteration order. This is the
// single canonicalization routine both signRequest and signResponse
// build on (spec §4.2's "canonical_bytes").
func canonicalBytes(fields map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		v, err := json.Marshal(fields[k])
		if err != nil {
			return nil, fmt.Errorf("canonicalize field %q: %w", k, err)
		}
		buf = append(buf, []byte(k)...)
		buf = append(buf, ':')
		buf = append(buf, v...)
		buf = append(buf, '|')
	}
	return buf, nil
}

func hmacSHA256(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// signRequest computes request_signature = HMAC_SHA256(store_secret,
// canonical_bytes({id, from, to, message, schema, nonce, created_at})).
func signRequest(secret []byte, r *Request) (string, error) {
	fields := map[string]interface{}{
		"id":         r.ID,
		"from":       r.FromAgent,
		"to":         r.ToAgent,
		"message":    r.Message,
		"schema":     r.Schema,
		"nonce":      r.Nonce,
		"created_at": r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := canonicalBytes(fields)
	if err != nil {
		return "", err
	}
	return hmacSHA256(secret, data), nil
}

// expectedResponseKey computes SHA-256("{id}:{to_agent}:{nonce}:{secret}").
// Mixing to_agent into the hash means only a party that both knows the
// secret and is computing the key for the addressed agent can derive it
// — an impersonator substituting a different agent id gets a different
// key (spec §4.2's stated security property).
func expectedResponseKey(secret []byte, id, toAgent, nonce string) string {
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("%s:%s:%s:%s", id, toAgent, nonce, secret)))
	return hex.EncodeToString(h.Sum(nil))
}

// signResponse computes response_signature = HMAC_SHA256(response_key,
// canonical_bytes({id, responder, type, data, nonce, now})), keyed by the
// expected_response_key rather than the store secret directly.
func signResponse(responseKeyHex string, id, responder, responseType string, data map[string]interface{}, nonce string, now time.Time) (string, error) {
	fields := map[string]interface{}{
		"id":        id,
		"responder": responder,
		"type":      responseType,
		"data":      data,
		"nonce":     nonce,
		"now":       now.UTC().Format(time.RFC3339Nano),
	}
	canon, err := canonicalBytes(fields)
	if err != nil {
		return "", err
	}
	key, err := hex.DecodeString(responseKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode response key: %w", err)
	}
	return hmacSHA256(key, canon), nil
}

// verifyResponseSignature recomputes and constant-time compares sig
// against the response signature for the given inputs.
func verifyResponseSignature(responseKeyHex, sig, id, responder, responseType string, data map[string]interface{}, nonce string, now time.Time) (bool, error) {
	expected, err := signResponse(responseKeyHex, id, responder, responseType, data, nonce, now)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(sig)), nil
}
