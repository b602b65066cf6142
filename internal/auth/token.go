package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VisitClaims represents the claims in a visit-scoped JWT token
type VisitClaims struct {
	PatientID string `json:"patient_id"`
	VisitID   string `json:"visit_id"`
	Role      string `json:"role"` // "patient" or "staff"
	jwt.RegisteredClaims
}

// Secret returns the signing secret, loaded from CLINIC_JWT_SECRET with a
// development fallback.
func Secret() []byte {
	if s := os.Getenv("CLINIC_JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("clinic-dev-secret")
}

// GenerateVisitToken generates a JWT token scoped to one patient visit.
func GenerateVisitToken(patientID, visitID string) (string, error) {
	claims := &VisitClaims{
		PatientID: patientID,
		VisitID:   visitID,
		Role:      "patient",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(Secret())
}

// ValidateToken validates a JWT token and returns the claims
func ValidateToken(tokenString string) (*VisitClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &VisitClaims{}, func(token *jwt.Token) (interface{}, error) {
		return Secret(), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*VisitClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}

// TokenSource supplies the bearer token attached to clinic API requests.
type TokenSource interface {
	Token() (string, error)
}

// StaticTokenSource holds a fixed visit token. It inspects the token's expiry
// claim before handing it out so the client refuses to issue requests that
// the server would reject anyway. The signature is not verified; only the
// server holds the secret.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource creates a token source from a pre-issued token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the stored token, or an error when its expiry has passed.
func (s *StaticTokenSource) Token() (string, error) {
	if s.token == "" {
		return "", nil
	}

	claims := &VisitClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(s.token, claims); err != nil {
		return "", fmt.Errorf("failed to parse visit token: %w", err)
	}

	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return "", fmt.Errorf("visit token expired at %s", claims.ExpiresAt.Time.Format(time.RFC3339))
	}

	return s.token, nil
}
