package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func urls(eps []Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.URL
	}
	return out
}

func TestCandidatesPlainBase(t *testing.T) {
	eps, err := Candidates("http://hub.local:8080", nil, true)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ws://hub.local:8080/ws",
		"ws://hub.local:8080/hub",
		"ws://hub.local:8080/matchHub",
	}, urls(eps))
	for _, ep := range eps {
		assert.False(t, ep.Secure)
	}
}

func TestCandidatesSecureBase(t *testing.T) {
	eps, err := Candidates("https://hub.example.com/live/", []string{"/ws", "hub"}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"wss://hub.example.com/live/ws",
		"wss://hub.example.com/live/hub",
	}, urls(eps))
	for _, ep := range eps {
		assert.True(t, ep.Secure)
	}
}

func TestCandidatesSecureWithPlainFallback(t *testing.T) {
	eps, err := Candidates("wss://hub.example.com", []string{"/ws"}, true)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"wss://hub.example.com/ws",
		"ws://hub.example.com/ws",
	}, urls(eps))
	assert.True(t, eps[0].Secure)
	assert.False(t, eps[1].Secure)
}

func TestCandidatesKeepsQuery(t *testing.T) {
	eps, err := Candidates("http://hub.local?token=abc", []string{"/ws"}, false)
	require.NoError(t, err)
	assert.Equal(t, "ws://hub.local/ws?token=abc", eps[0].URL)
}

func TestCandidatesErrors(t *testing.T) {
	for _, base := range []string{
		"",
		"hub.local",
		"ftp://hub.local",
		"http://",
		"://bad",
	} {
		_, err := Candidates(base, nil, false)
		assert.Error(t, err, base)
	}
}
