package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"go.oluso.dev/idp/domain"
)

// hintFailure distinguishes resolution failure causes for logging. Callers
// only ever see "resolved or not"; the cause never crosses the protocol
// boundary.
type hintFailure int

const (
	hintOK hintFailure = iota
	hintNoSubject
	hintBadSignature
	hintExpired
	hintBadAudience
	hintUserNotFound
)

func (f hintFailure) String() string {
	switch f {
	case hintOK:
		return "ok"
	case hintNoSubject:
		return "no subject claim"
	case hintBadSignature:
		return "signature validation failed"
	case hintExpired:
		return "token expired"
	case hintBadAudience:
		return "audience mismatch"
	case hintUserNotFound:
		return "subject not found in user store"
	default:
		return "unknown"
	}
}

// hintResolver resolves CIBA user hints to known users. Exactly one of the
// three hint kinds is consulted per request; every failure path collapses to
// a nil user so the caller cannot leak which hint type failed or why.
type hintResolver struct {
	users domain.UserService
	keys  domain.SigningCredentialStore
}

func newHintResolver(users domain.UserService, keys domain.SigningCredentialStore) *hintResolver {
	return &hintResolver{users: users, keys: keys}
}

// ResolveLoginHint tries the hint as an email address, then a username,
// then a raw user ID.
func (r *hintResolver) ResolveLoginHint(ctx context.Context, hint string) *domain.User {
	if hint == "" {
		return nil
	}

	if user, err := r.users.FindByEmail(ctx, hint); err == nil && user != nil {
		return user
	}
	if user, err := r.users.FindByUsername(ctx, hint); err == nil && user != nil {
		return user
	}
	if user, err := r.users.FindByID(ctx, hint); err == nil && user != nil {
		return user
	}

	log.Debug().Msg("login_hint did not resolve to a known user")
	return nil
}

// ResolveLoginHintToken validates the hint token's signature and lifetime
// against the issuer's keys and resolves its subject.
func (r *hintResolver) ResolveLoginHintToken(ctx context.Context, hintToken string) *domain.User {
	user, failure := r.resolveJWT(ctx, hintToken, "", true)
	if failure != hintOK {
		log.Debug().Str("cause", failure.String()).Msg("login_hint_token did not resolve")
		return nil
	}
	return user
}

// ResolveIDTokenHint validates the hint's signature and checks its audience
// contains the requesting client. Lifetime validation is skipped: an
// expired ID token still identifies who the client means.
func (r *hintResolver) ResolveIDTokenHint(ctx context.Context, idTokenHint, clientID string) *domain.User {
	user, failure := r.resolveJWT(ctx, idTokenHint, clientID, false)
	if failure != hintOK {
		log.Debug().Str("cause", failure.String()).Msg("id_token_hint did not resolve")
		return nil
	}
	return user
}

//nolint:cyclop
func (r *hintResolver) resolveJWT(ctx context.Context, raw, requiredAudience string, checkLifetime bool) (*domain.User, hintFailure) {
	keys, err := r.keys.GetValidationKeys(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load validation keys for hint resolution")
		return nil, hintBadSignature
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if !checkLifetime {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	parser := jwt.NewParser(opts...)

	var claims jwt.RegisteredClaims
	_, err = parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		for _, k := range keys {
			if kid != "" && k.KeyID != kid {
				continue
			}
			if k.Algorithm == token.Method.Alg() {
				return k.Key, nil
			}
		}
		return nil, fmt.Errorf("no validation key for kid %q alg %q", kid, token.Method.Alg())
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, hintExpired
		}
		return nil, hintBadSignature
	}

	if requiredAudience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == requiredAudience {
				found = true
				break
			}
		}
		if !found {
			return nil, hintBadAudience
		}
	}

	if claims.Subject == "" {
		return nil, hintNoSubject
	}

	user, err := r.users.FindByID(ctx, claims.Subject)
	if err != nil || user == nil {
		return nil, hintUserNotFound
	}
	return user, hintOK
}
