// Package identity resolves who this client is from its access token.
package identity

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/pushkar-hue/teleconsult/internal/domain"
)

// Provider implements core.Identity. The client is not the token
// authority; it only reads its own claims, so the token is parsed
// without verification. The relay verifies the signature.
type Provider struct {
	userID domain.UserID
	name   string
	role   domain.Role
	token  string
}

// FromToken reads sub/user_id, name and role claims, falling back to
// the given values for anything the token does not carry.
func FromToken(token string, fallbackID domain.UserID, fallbackName string, fallbackRole domain.Role) *Provider {
	p := &Provider{userID: fallbackID, name: fallbackName, role: fallbackRole, token: token}
	if token == "" {
		return p
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return p
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		p.userID = domain.UserID(sub)
	} else if id, ok := claims["user_id"].(string); ok && id != "" {
		p.userID = domain.UserID(id)
	}
	if name, ok := claims["name"].(string); ok && name != "" {
		p.name = name
	}
	if role, ok := claims["role"].(string); ok {
		if r, err := domain.ParseRole(role); err == nil {
			p.role = r
		}
	}
	return p
}

func (p *Provider) UserID() domain.UserID { return p.userID }
func (p *Provider) UserName() string      { return p.name }
func (p *Provider) Role() domain.Role     { return p.role }
func (p *Provider) AccessToken() string   { return p.token }
