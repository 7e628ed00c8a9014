package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// requireBearer rejects requests without a valid HS256 token signed with secret.
func requireBearer(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
				return
			}
			if _, err := parseToken(strings.TrimSpace(raw), secret); err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized", Details: "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseToken(tokenStr string, secret []byte) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
