// Package authz models the already-authenticated actor and the closed set of
// capabilities the workflow engine checks. Role names are mapped to capabilities
// in one table; no other code compares role strings.
package authz

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// ErrUnauthenticated is returned when no actor identity can be resolved.
var ErrUnauthenticated = errors.New("unauthenticated")

// Capability is something an actor may be allowed to do.
type Capability string

const (
	// ApproveOperations covers approve, revoke and reject on the operations section.
	ApproveOperations  Capability = "APPROVE_OPERATIONS"
	ManageCases        Capability = "MANAGE_CASES"
	ManageClaimFinance Capability = "MANAGE_CLAIM_FINANCE"
)

// Role names as issued by the identity provider.
const (
	RoleSeniorUnderwriter   = "SENIOR_UNDERWRITER"
	RoleUnderwritingManager = "UNDERWRITING_MANAGER"
	RoleUnderwriter         = "UNDERWRITER"
	RoleOperations          = "OPERATIONS"
	RoleFinance             = "FINANCE"
	RoleAdmin               = "ADMIN"
)

var roleCapabilities = map[string][]Capability{
	RoleSeniorUnderwriter:   {ApproveOperations, ManageCases},
	RoleUnderwritingManager: {ApproveOperations, ManageCases},
	RoleUnderwriter:         {ManageCases},
	RoleOperations:          {ManageCases},
	RoleFinance:             {ManageClaimFinance},
	RoleAdmin:               {ApproveOperations, ManageCases, ManageClaimFinance},
}

// Actor is the identity performing a command.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasCapability reports whether any of the actor's roles grants c.
// Unknown roles grant nothing.
func HasCapability(a Actor, c Capability) bool {
	for _, role := range a.Roles {
		for _, granted := range roleCapabilities[strings.ToUpper(strings.TrimSpace(role))] {
			if granted == c {
				return true
			}
		}
	}
	return false
}

// Header names used for actor propagation.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

// FromHTTPRequest resolves the actor. The bearer token payload is trusted as-is:
// signature verification happens at the gateway in front of this service.
// With trustHeaders set, X-User-ID / X-User-Roles are accepted first (local development).
func FromHTTPRequest(r *http.Request, trustHeaders bool) (Actor, error) {
	if trustHeaders {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			return Actor{ID: id, Roles: splitRoles(r.Header.Get(HeaderUserRoles))}, nil
		}
	}
	if a, ok := fromBearer(r.Header.Get("Authorization")); ok {
		return a, nil
	}
	return Actor{}, ErrUnauthenticated
}

// FromGRPCContext resolves the actor from incoming gRPC metadata using the same rules.
func FromGRPCContext(ctx context.Context, trustHeaders bool) (Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Actor{}, ErrUnauthenticated
	}
	if trustHeaders {
		if ids := md.Get(strings.ToLower(HeaderUserID)); len(ids) > 0 && strings.TrimSpace(ids[0]) != "" {
			var roles []string
			for _, v := range md.Get(strings.ToLower(HeaderUserRoles)) {
				roles = append(roles, splitRoles(v)...)
			}
			return Actor{ID: strings.TrimSpace(ids[0]), Roles: roles}, nil
		}
	}
	if auth := md.Get("authorization"); len(auth) > 0 {
		if a, ok := fromBearer(auth[0]); ok {
			return a, nil
		}
	}
	return Actor{}, ErrUnauthenticated
}

type tokenClaims struct {
	Sub   string   `json:"sub"`
	Roles []string `json:"roles"`
}

func fromBearer(header string) (Actor, bool) {
	if header == "" {
		return Actor{}, false
	}
	token := header
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Actor{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Actor{}, false
	}
	var claims tokenClaims
	if json.Unmarshal(payload, &claims) != nil || claims.Sub == "" {
		return Actor{}, false
	}
	return Actor{ID: claims.Sub, Roles: claims.Roles}, true
}

func splitRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
