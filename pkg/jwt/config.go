package jwt

import "time"

// Config configures token issuance and verification.
type Config struct {
	SigningKey string        `env:"JWT_SIGNING_KEY,required"`
	Issuer     string        `env:"JWT_ISSUER" envDefault:"audit-portal"`
	TTL        time.Duration `env:"JWT_TTL" envDefault:"24h"`
	Leeway     time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
}
