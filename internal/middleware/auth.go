package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

// TerminalIDKey carries the authenticated fare-gate terminal id.
const TerminalIDKey contextKey = "terminalID"

// TerminalAuth guards the tap endpoints. Fare-gate terminals authenticate
// with a bearer JWT carrying a terminal_id claim; rider-facing web auth
// is handled outside this service.
func TerminalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		terminalID, err := validateTerminalToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), TerminalIDKey, terminalID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateTerminalToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.terminal_secret")), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid terminal token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid terminal token claims")
	}

	terminalID, ok := claims["terminal_id"]
	if !ok {
		return "", fmt.Errorf("terminal_id claim missing")
	}
	return fmt.Sprintf("%v", terminalID), nil
}
