// Package identity resolves the calling user and client from JWT bearer
// tokens and exposes them to the rest of the pipeline as a sync BEFORE
// plugin.
package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the extractor reads from a verified token.
type Claims struct {
	UserID   string
	ClientID string
}

// ExtractorConfig configures the JWT claims extractor.
type ExtractorConfig struct {
	// UserClaim is the claim carrying the user id. Default "sub".
	UserClaim string

	// ClientClaim is the claim carrying the client id. Default "azp".
	ClientClaim string

	// PublicKeyPath is the path to the PEM-encoded RSA public key for RS256
	// verification. If empty, tokens are parsed but NOT verified (suitable
	// behind a trusted proxy that already verified them).
	PublicKeyPath string

	// Issuer is the expected iss claim. If empty, issuer is not validated.
	Issuer string

	// Audience is the expected aud claim. If empty, audience is not validated.
	Audience string

	Logger *slog.Logger
}

// Extractor parses bearer tokens into identity claims.
type Extractor struct {
	cfg       ExtractorConfig
	publicKey *rsa.PublicKey
	logger    *slog.Logger
}

// NewExtractor creates an Extractor, loading the verification key when one
// is configured.
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if cfg.UserClaim == "" {
		cfg.UserClaim = "sub"
	}
	if cfg.ClientClaim == "" {
		cfg.ClientClaim = "azp"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key from %s: %w", cfg.PublicKeyPath, err)
		}
		block, _ := pem.Decode(keyData)
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block from %s", cfg.PublicKeyPath)
		}
		parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		rsaKey, ok := parsedKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
		}
		publicKey = rsaKey
		cfg.Logger.Info("identity extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("identity extractor: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return &Extractor{cfg: cfg, publicKey: publicKey, logger: cfg.Logger}, nil
}

// Extract parses an Authorization header value into identity claims. A
// missing header returns the zero Claims without error; a present but
// unparseable token is an error.
func (e *Extractor) Extract(authorization string) (Claims, error) {
	token := bearerToken(authorization)
	if token == "" {
		return Claims{}, nil
	}

	claims, err := e.parse(token)
	if err != nil {
		return Claims{}, err
	}

	return Claims{
		UserID:   stringClaim(claims, e.cfg.UserClaim),
		ClientID: stringClaim(claims, e.cfg.ClientClaim),
	}, nil
}

func (e *Extractor) parse(tokenString string) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if e.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(e.cfg.Issuer))
	}
	if e.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(e.cfg.Audience))
	}

	var token *jwt.Token
	var err error

	if e.publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return e.publicKey, nil
		}, parserOpts...)
	} else {
		// Trusted proxy mode: parse without verification.
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
	}

	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(authorization string) string {
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}
