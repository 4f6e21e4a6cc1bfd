package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

// rsaKey returns a process-wide 2048-bit key; generating one per test is slow.
func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func pkcs8PEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestNewClaimSet_OneHourWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 999_000_000)

	c := NewClaimSet("svc@example.iam.gserviceaccount.com", SpreadsheetsScope, "https://oauth2.googleapis.com/token", now)

	assert.Equal(t, int64(1_700_000_000), c.Iat)
	assert.Equal(t, int64(3600), c.Exp-c.Iat)
	assert.Equal(t, "svc@example.iam.gserviceaccount.com", c.Iss)
	assert.Equal(t, "https://www.googleapis.com/auth/spreadsheets", c.Scope)
	assert.Equal(t, "https://oauth2.googleapis.com/token", c.Aud)
}

func TestBase64URL(t *testing.T) {
	t.Run("no padding or unsafe characters", func(t *testing.T) {
		// 0xfb 0xff 0xbf encodes to "+/+/" in standard base64.
		inputs := [][]byte{{0xfb, 0xff, 0xbf}, {0xff}, {0xff, 0xfe}, []byte("any carnal pleas")}
		for _, in := range inputs {
			out := Base64URL(in)
			assert.NotContains(t, out, "=")
			assert.NotContains(t, out, "+")
			assert.NotContains(t, out, "/")

			back, err := base64.RawURLEncoding.DecodeString(out)
			require.NoError(t, err)
			assert.Equal(t, in, back)
		}
	})

	t.Run("substitutes url-unsafe characters", func(t *testing.T) {
		assert.Equal(t, "-_-_", Base64URL([]byte{0xfb, 0xff, 0xbf}))
	})
}

func TestSigningInput_RoundTrips(t *testing.T) {
	claims := NewClaimSet("svc@example.com", SpreadsheetsScope, "https://oauth2.googleapis.com/token", time.Unix(1000, 0))

	input, err := SigningInput(Header{Alg: "RS256", Typ: "JWT"}, claims)
	require.NoError(t, err)

	parts := strings.Split(input, ".")
	require.Len(t, parts, 2)

	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"RS256","typ":"JWT"}`, string(hb))

	cb, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"iss":"svc@example.com",
		"scope":"https://www.googleapis.com/auth/spreadsheets",
		"aud":"https://oauth2.googleapis.com/token",
		"exp":4600,
		"iat":1000
	}`, string(cb))
}

func TestSignAssertion_VerifiesWithPublicKey(t *testing.T) {
	key := rsaKey(t)
	claims := NewClaimSet("svc@example.com", SpreadsheetsScope, "aud", time.Now())

	jwt, err := SignAssertion(claims, key)
	require.NoError(t, err)

	parts := strings.Split(jwt, ".")
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.NotContains(t, p, "=")
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sum := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, sum[:], sig))

	var decoded ClaimSet
	cb, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(cb, &decoded))
	assert.Equal(t, int64(3600), decoded.Exp-decoded.Iat)
}

func TestParsePrivateKey(t *testing.T) {
	key := rsaKey(t)
	pemKey := pkcs8PEM(t, key)

	t.Run("pem pkcs8", func(t *testing.T) {
		got, err := ParsePrivateKey(pemKey)
		require.NoError(t, err)
		assert.True(t, key.Equal(got))
	})

	t.Run("escaped newlines from env", func(t *testing.T) {
		escaped := strings.ReplaceAll(pemKey, "\n", `\n`)
		got, err := ParsePrivateKey(escaped)
		require.NoError(t, err)
		assert.True(t, key.Equal(got))
	})

	t.Run("header on one line with body", func(t *testing.T) {
		body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(pemKey), pemHeader), pemFooter))
		oneLine := pemHeader + " " + strings.ReplaceAll(body, "\n", "") + " " + pemFooter
		got, err := ParsePrivateKey(oneLine)
		require.NoError(t, err)
		assert.True(t, key.Equal(got))
	})

	t.Run("bare base64 body", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		got, err := ParsePrivateKey(base64.StdEncoding.EncodeToString(der))
		require.NoError(t, err)
		assert.True(t, key.Equal(got))
	})

	t.Run("pkcs1 fallback", func(t *testing.T) {
		block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		got, err := ParsePrivateKey(string(block))
		require.NoError(t, err)
		assert.True(t, key.Equal(got))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParsePrivateKey("definitely not a key!")
		assert.ErrorContains(t, err, "base64")
	})

	t.Run("valid base64 but not a key", func(t *testing.T) {
		_, err := ParsePrivateKey(base64.StdEncoding.EncodeToString([]byte("hello")))
		assert.ErrorContains(t, err, "PKCS8")
	})
}
