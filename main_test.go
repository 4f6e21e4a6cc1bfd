package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	mu    sync.Mutex
	calls []string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case r.URL.Path == "/token":
		u.calls = append(u.calls, "token")
		_, _ = w.Write([]byte(`{"access_token":"ya29.cli","expires_in":3599,"token_type":"Bearer"}`))
	case strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/"):
		u.calls = append(u.calls, "append")
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setupEnv(t *testing.T) *upstream {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	u := &upstream{}
	srv := httptest.NewServer(u)
	t.Cleanup(srv.Close)

	t.Setenv("GOOGLE_SERVICE_ACCOUNT_EMAIL", "leads@campaign.iam.gserviceaccount.com")
	t.Setenv("GOOGLE_PRIVATE_KEY", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	t.Setenv("GOOGLE_TOKEN_URL", srv.URL+"/token")
	t.Setenv("SHEETS_ENDPOINT", srv.URL+"/")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TOKEN_CACHE", "none")
	t.Setenv("LOG_LEVEL", "error")
	return u
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestTokenCmd_PrintsTypeNotToken(t *testing.T) {
	u := setupEnv(t)

	out, err := execute(t, "token")

	require.NoError(t, err)
	assert.Contains(t, out, "token type: Bearer")
	assert.Contains(t, out, "expires at:")
	assert.NotContains(t, out, "ya29.cli")
	assert.Equal(t, []string{"token"}, u.calls)
}

func TestSubmitCmd(t *testing.T) {
	u := setupEnv(t)

	out, err := execute(t, "submit",
		"--name", "Ana Silva",
		"--email", "ana@example.com",
		"--phone", "(21) 99999-0000",
		"--investment", "50k-100k",
	)

	require.NoError(t, err)
	assert.Contains(t, out, "Data submitted successfully")
	assert.Equal(t, []string{"token", "append"}, u.calls)
}

func TestSubmitCmd_MissingFields(t *testing.T) {
	u := setupEnv(t)
	submitLead.Name, submitLead.Email, submitLead.Phone, submitLead.InvestmentAmount = "", "", "", ""

	_, err := execute(t, "submit", "--name", "Ana Silva")

	assert.EqualError(t, err, "Missing required fields")
	assert.Empty(t, u.calls)
}
