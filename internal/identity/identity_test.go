package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestJWT builds an unsigned-for-tests token carrying a
// realm_access.roles claim, following the teacher's GenerateTestJWT
// fixture shape (test_jwt_test.go) adapted to this package's realm-role
// vocabulary.
func generateTestJWT(t *testing.T, sub string, roles []string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sub,
		"realm_access": map[string]interface{}{
			"roles": roles,
		},
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte("test-secret-key"))
	require.NoError(t, err)
	return tokenString
}

func TestRolesFromToken_ExtractsRealmAccessRoles(t *testing.T) {
	tokenString := generateTestJWT(t, "user-1", []string{"administrator", "editor"})

	roles, err := rolesFromToken(tokenString)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"administrator", "editor"}, roles)
}

func TestRolesFromToken_NoRealmAccessIsEmpty(t *testing.T) {
	claims := jwt.MapClaims{"sub": "user-1"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	roles, err := rolesFromToken(tokenString)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestSubject_IsAdministrator(t *testing.T) {
	admin := Subject{Roles: []string{"administrator"}}
	assert.True(t, admin.IsAdministrator(false))

	user := Subject{Roles: []string{"editor"}}
	assert.False(t, user.IsAdministrator(false))
	assert.True(t, user.IsAdministrator(true))
}
