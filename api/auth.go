package api

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// Role gates which parts of a document a session may mutate. Limited editors
// can change items but not the protected event metadata.
type Role string

const (
	RoleFull    Role = "full"
	RoleLimited Role = "limited"
)

// Editor identifies an authenticated editing session.
type Editor struct {
	ID   string
	Name string
	Role Role
}

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errBadPassword          = errors.New("invalid access password")
)

// Auth validates editor credentials: JWT bearer tokens for signed-in users
// (full role) and locally minted HS256 access tokens obtained with one of the
// document's shared-access passwords.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string

	accessSecret    []byte
	fullPassword    string
	limitedPassword string

	jwtParser    *jwt.Parser
	accessParser *jwt.Parser
}

// AuthConfig carries the credential material for NewAuth.
type AuthConfig struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string

	// AccessSecret signs the HS256 tokens handed out for shared-access
	// passwords.
	AccessSecret    string
	FullPassword    string
	LimitedPassword string
}

// NewAuth creates a new Auth instance.
func NewAuth(cfg AuthConfig) *Auth {
	return &Auth{
		jwks:            cfg.JWKS,
		audience:        cfg.Audience,
		issuer:          cfg.Issuer,
		accessSecret:    []byte(cfg.AccessSecret),
		fullPassword:    cfg.FullPassword,
		limitedPassword: cfg.LimitedPassword,
		jwtParser:       jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		accessParser:    jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// RoleForPassword validates a shared-access password with a constant-time
// compare and returns the role it grants.
func (a *Auth) RoleForPassword(password string) (Role, error) {
	if a.fullPassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(a.fullPassword)) == 1 {
		return RoleFull, nil
	}
	if a.limitedPassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(a.limitedPassword)) == 1 {
		return RoleLimited, nil
	}
	return "", errBadPassword
}

const accessTokenTTL = 12 * time.Hour

// IssueAccessToken mints an HS256 token carrying the granted role and the
// display name chosen by the anonymous editor.
func (a *Auth) IssueAccessToken(docID, displayName string, role Role) (string, error) {
	if len(a.accessSecret) == 0 {
		return "", errors.New("access tokens not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  "guest:" + docID + ":" + displayName,
		"name": displayName,
		"doc":  docID,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(accessTokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.accessSecret)
}

// EditorFromAuthHeader resolves the Authorization header to an editor. RS256
// bearer tokens (signed-in users) always carry the full role; HS256 access
// tokens carry the role embedded at issue time.
func (a *Auth) EditorFromAuthHeader(header string) (Editor, error) {
	token, err := bearerToken(header)
	if err != nil {
		return Editor{}, err
	}

	if len(a.accessSecret) > 0 {
		if ed, err := a.editorFromAccessToken(token); err == nil {
			return ed, nil
		}
	}
	return a.editorFromJWT(token)
}

func (a *Auth) editorFromAccessToken(token string) (Editor, error) {
	parsed, err := a.accessParser.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.accessSecret, nil
	})
	if err != nil {
		return Editor{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Editor{}, errors.New("invalid claims")
	}
	if err := verifyClaims(claims, "", ""); err != nil {
		return Editor{}, err
	}
	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return Editor{}, errors.New("missing claims")
	}
	return Editor{ID: sub, Name: name, Role: Role(role)}, nil
}

func (a *Auth) editorFromJWT(token string) (Editor, error) {
	if a.jwks == nil {
		return Editor{}, errors.New("jwks not configured")
	}
	parsed, err := a.jwtParser.Parse(token, a.jwks.Keyfunc)
	if err != nil {
		return Editor{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Editor{}, errors.New("invalid claims")
	}
	if err := verifyClaims(claims, a.audience, a.issuer); err != nil {
		return Editor{}, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Editor{}, errors.New("missing sub")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return Editor{ID: sub, Name: name, Role: RoleFull}, nil
}

func verifyClaims(claims jwt.MapClaims, audience, issuer string) error {
	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return errors.New("token used before issued")
	}
	if audience != "" && !claims.VerifyAudience(audience, false) {
		return errors.New("invalid audience")
	}
	if issuer != "" && !claims.VerifyIssuer(issuer, false) {
		return errors.New("invalid issuer")
	}
	return nil
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingAuthorization
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errBadAuthorization
	}
	return parts[1], nil
}
