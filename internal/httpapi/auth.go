package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// resolveUserID extracts the already-authenticated identity accompanying a
// request. When an identity secret is configured and a bearer token is
// presented, the token must verify and its subject becomes the user id.
// Otherwise the X-User-Id header or userId query parameter is taken as-is;
// absence of all three yields an anonymous (empty) identity. No
// authorization decisions are made here.
func (s *Server) resolveUserID(r *http.Request) (string, *authError) {
	authHeader := r.Header.Get("Authorization")
	if s.cfg.IdentitySecret != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return parseIdentityToken(authHeader, s.cfg.IdentitySecret, time.Now().UTC())
	}
	if userID := strings.TrimSpace(r.Header.Get("X-User-Id")); userID != "" {
		return userID, nil
	}
	return strings.TrimSpace(r.URL.Query().Get("userId")), nil
}

func parseIdentityToken(authHeader, secret string, now time.Time) (string, *authError) {
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", &authError{status: 401, code: "unauthorized", message: "invalid token format"}
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", &authError{status: 401, code: "unauthorized", message: "invalid token header"}
	}
	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return "", &authError{status: 401, code: "unauthorized", message: "invalid token header"}
	}
	if header.Alg != "HS256" {
		return "", &authError{status: 401, code: "unauthorized", message: "unsupported token algorithm"}
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", &authError{status: 401, code: "unauthorized", message: "invalid token signature"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return "", &authError{status: 401, code: "unauthorized", message: "token signature mismatch"}
	}

	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return "", &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}
	sub, ok := payload["sub"].(string)
	if !ok || sub == "" {
		return "", &authError{status: 401, code: "unauthorized", message: "missing sub claim"}
	}
	if rawExp, present := payload["exp"]; present {
		exp, err := parseExp(rawExp)
		if err != nil {
			return "", &authError{status: 401, code: "unauthorized", message: "invalid exp claim"}
		}
		if now.Unix() >= exp {
			return "", &authError{status: 401, code: "unauthorized", message: "token expired"}
		}
	}
	return sub, nil
}

func parseExp(v any) (int64, error) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), nil
	case int64:
		return typed, nil
	case json.Number:
		return typed.Int64()
	default:
		return 0, errors.New("unsupported exp type")
	}
}
