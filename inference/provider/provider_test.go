package provider

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinURL(t *testing.T) {
	cases := []struct{ base, suffix, want string }{
		{"http://h", "v1/chat", "http://h/v1/chat"},
		{"http://h/", "v1/chat", "http://h/v1/chat"},
		{"http://h/", "/v1/chat", "http://h/v1/chat"},
		{"", "v1/chat", "/v1/chat"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, JoinURL(c.base, c.suffix))
	}
}

func TestBuildURL_WithQuery(t *testing.T) {
	q := url.Values{"api-version": []string{"2024-02-01"}}
	got := BuildURL("http://h", "v1/chat", q)
	require.Equal(t, "http://h/v1/chat?api-version=2024-02-01", got)
}

func TestBuildURL_NoQuery(t *testing.T) {
	got := BuildURL("http://h", "v1/chat", nil)
	require.Equal(t, "http://h/v1/chat", got)
}

func TestErrBatchUnsupported_DoesNotPanicAtInit(t *testing.T) {
	require.NotNil(t, ErrBatchUnsupported)
	require.Equal(t, "unknown", ErrBatchUnsupported.Provider())
}
