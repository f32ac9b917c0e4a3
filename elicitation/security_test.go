package elicitation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBytesDeterministicRegardlessOfMapOrder(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	b := map[string]interface{}{"c": 3, "a": 2, "b": 1}

	bytesA, err := canonicalBytes(a)
	require.NoError(t, err)
	bytesB, err := canonicalBytes(b)
	require.NoError(t, err)

	assert.Equal(t, bytesA, bytesB)
}

func TestSignRequestIsStableForSameInput(t *testing.T) {
	now := time.Now()
	req := &Request{ID: "elicit_1", FromAgent: "a", ToAgent: "b", Message: "hi", Nonce: "n1", CreatedAt: now}

	sig1, err := signRequest([]byte("secret"), req)
	require.NoError(t, err)
	sig2, err := signRequest([]byte("secret"), req)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
}

func TestSignRequestDiffersByMessage(t *testing.T) {
	now := time.Now()
	req1 := &Request{ID: "elicit_1", FromAgent: "a", ToAgent: "b", Message: "hi", Nonce: "n1", CreatedAt: now}
	req2 := &Request{ID: "elicit_1", FromAgent: "a", ToAgent: "b", Message: "bye", Nonce: "n1", CreatedAt: now}

	sig1, err := signRequest([]byte("secret"), req1)
	require.NoError(t, err)
	sig2, err := signRequest([]byte("secret"), req2)
	require.NoError(t, err)

	assert.NotEqual(t, sig1, sig2)
}

func TestExpectedResponseKeyDiffersByToAgent(t *testing.T) {
	k1 := expectedResponseKey([]byte("secret"), "elicit_1", "agent_b", "nonce1")
	k2 := expectedResponseKey([]byte("secret"), "elicit_1", "agent_c", "nonce1")
	assert.NotEqual(t, k1, k2)
}

func TestSignResponseVerifiesRoundTrip(t *testing.T) {
	key := expectedResponseKey([]byte("secret"), "elicit_1", "agent_b", "nonce1")
	now := time.Now()
	data := map[string]interface{}{"answer": "yes"}

	sig, err := signResponse(key, "elicit_1", "agent_b", "accept", data, "nonce1", now)
	require.NoError(t, err)

	ok, err := verifyResponseSignature(key, sig, "elicit_1", "agent_b", "accept", data, "nonce1", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyResponseSignatureFailsOnTamperedData(t *testing.T) {
	key := expectedResponseKey([]byte("secret"), "elicit_1", "agent_b", "nonce1")
	now := time.Now()

	sig, err := signResponse(key, "elicit_1", "agent_b", "accept", map[string]interface{}{"answer": "yes"}, "nonce1", now)
	require.NoError(t, err)

	ok, err := verifyResponseSignature(key, sig, "elicit_1", "agent_b", "accept", map[string]interface{}{"answer": "no"}, "nonce1", now)
	require.NoError(t, err)
	assert.False(t, ok)
}
