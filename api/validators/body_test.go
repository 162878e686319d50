package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/reclamflow/feed/pkg/errors"
)

type soundBody struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func decode(t *testing.T, body string) (soundBody, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/sound", strings.NewReader(body))
	var dest soundBody
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	return dest, err
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	dest, err := decode(t, `{"enabled":false}`)
	require.NoError(t, err)
	require.NotNil(t, dest.Enabled)
	require.False(t, *dest.Enabled)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
	}{
		{name: "empty", body: "", message: "request body required"},
		{name: "malformed", body: `{"enabled":`, message: "invalid request body"},
		{name: "unknown field", body: `{"enabled":true,"volume":3}`, message: "invalid request body"},
		{name: "missing field", body: `{}`, message: "validation failed"},
		{name: "too large", body: `{"enabled":true,"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, message: "request body too large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decode(t, tc.body)
			require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
			require.Equal(t, tc.message, pkgerrors.As(err).Message())
		})
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	_, err := decode(t, `{}`)
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, map[string]string{"enabled": "is required"}, details)
}
