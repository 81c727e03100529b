package httpserver_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/graphscript/evalserver/internal/adapter/httpserver"
)

func TestValidateRequestID(t *testing.T) {
	cases := []struct {
		name  string
		id    string
		valid bool
	}{
		{"empty", "", false},
		{"valid", "req-123_abc", true},
		{"too long", strings.Repeat("a", 101), false},
		{"invalid chars", "req 123!", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := httpserver.ValidateRequestID(tc.id)
			assert.Equal(t, tc.valid, result.Valid)
		})
	}
}

func TestValidatePagination(t *testing.T) {
	assert.True(t, httpserver.ValidatePagination("1", "50").Valid)
	assert.True(t, httpserver.ValidatePagination("", "").Valid)
	assert.False(t, httpserver.ValidatePagination("0", "50").Valid)
	assert.False(t, httpserver.ValidatePagination("1", "0").Valid)
	assert.False(t, httpserver.ValidatePagination("1", "101").Valid)
	assert.False(t, httpserver.ValidatePagination("abc", "50").Valid)
}

func TestValidateSearchQuery(t *testing.T) {
	assert.True(t, httpserver.ValidateSearchQuery("").Valid)
	assert.True(t, httpserver.ValidateSearchQuery("g_V-1 traversal").Valid)
	assert.False(t, httpserver.ValidateSearchQuery(strings.Repeat("a", 201)).Valid)
	assert.False(t, httpserver.ValidateSearchQuery("'; DROP TABLE--").Valid)
}

func TestValidateStatus(t *testing.T) {
	assert.True(t, httpserver.ValidateStatus("").Valid)
	assert.True(t, httpserver.ValidateStatus("SUCCESS").Valid)
	assert.True(t, httpserver.ValidateStatus("SERVER_ERROR_SCRIPT_EVALUATION").Valid)
	assert.False(t, httpserver.ValidateStatus("NOT_A_STATUS").Valid)
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", httpserver.SanitizeString("  hello  "))
	assert.Equal(t, "hello", httpserver.SanitizeString("hel\x00lo"))
	assert.Len(t, httpserver.SanitizeString(strings.Repeat("a", 2000)), 1000)
}

func TestSanitizeRequestID(t *testing.T) {
	assert.Equal(t, "req-123", httpserver.SanitizeRequestID("req-123!@#"))
	assert.Len(t, httpserver.SanitizeRequestID(strings.Repeat("a", 200)), 100)
}
