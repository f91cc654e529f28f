package session

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromClaims(t *testing.T) {
	tests := []struct {
		name    string
		claims  Claims
		want    Session
		wantErr error
	}{
		{
			name:   "dentist id",
			claims: Claims{Role: RoleDentist, DentistID: "D-7"},
			want:   Dentist{ID: "D-7"},
		},
		{
			name:   "patient falls back to subject",
			claims: Claims{Role: "Patient", RegisteredClaims: jwt.RegisteredClaims{Subject: "P-1"}},
			want:   Patient{ID: "P-1"},
		},
		{
			name:   "reception uses user id",
			claims: Claims{Role: RoleReception, UserID: "u-9"},
			want:   Reception{ID: "u-9"},
		},
		{
			name:   "no role is anonymous",
			claims: Claims{},
			want:   Anonymous{},
		},
		{
			name:    "dentist without id",
			claims:  Claims{Role: RoleDentist},
			wantErr: ErrMissingID,
		},
		{
			name:    "unknown role",
			claims:  Claims{Role: "admin", UserID: "x"},
			wantErr: ErrUnknownRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromClaims(tt.claims)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromContextDefaultsToAnonymous(t *testing.T) {
	s := FromContext(context.Background())
	assert.Equal(t, RoleAnonymous, s.Role())
	assert.True(t, IsAnonymous(s))

	ctx := WithSession(context.Background(), Patient{ID: "P-2"})
	s = FromContext(ctx)
	assert.False(t, IsAnonymous(s))
	switch v := s.(type) {
	case Patient:
		assert.Equal(t, "P-2", v.ID)
	default:
		t.Fatalf("expected patient session, got %T", s)
	}
}

func TestTokenFromContext(t *testing.T) {
	_, ok := TokenFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithToken(context.Background(), Token{ID: "jti-1"})
	tok, ok := TokenFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "jti-1", tok.ID)
}
