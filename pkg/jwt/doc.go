// Package jwt issues and verifies the HS256 access tokens portal users
// present to the HTTP API and the realtime endpoint.
//
// Service wraps github.com/golang-jwt/jwt/v5 with the portal's claim set:
// the subject is the user id, plus email and role.
//
//	svc, err := jwt.New(jwt.Config{SigningKey: secret, Issuer: "audit-portal", TTL: 24 * time.Hour})
//	token, err := svc.Generate("user-1", "dana@example.com", "manager")
//	claims, err := svc.Parse(token)
//
// Middleware verifies a token from the request, stores the claims in the
// request context and rejects the request with 401 otherwise. Use
// ClaimsFromContext or UserIDFromContext downstream.
package jwt
