package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/realm-idm/pkg/iam"
)

func strPtr(s string) *string { return &s }

func TestIsPermittedForResourceRealm(t *testing.T) {
	master := &iam.Realm{ID: uuid.New(), Name: "master", Master: true}
	tenant := &iam.Realm{ID: uuid.New(), Name: "tenant-a"}
	otherRealmID := uuid.New()

	tests := []struct {
		name     string
		acting   *iam.Realm
		resource uuid.UUID
		want     bool
	}{
		{"master realm reaches any realm", master, otherRealmID, true},
		{"master realm reaches itself", master, master.ID, true},
		{"realm reaches itself", tenant, tenant.ID, true},
		{"realm does not reach another realm", tenant, otherRealmID, false},
		{"absent acting realm is never permitted", nil, tenant.ID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermittedForResourceRealm(tt.acting, tt.resource))
		})
	}
}

func TestAbilitySet(t *testing.T) {
	realmID := uuid.New()
	permissions := []Permission{
		{ID: uuid.New(), RealmID: &realmID, Name: "user:read"},
		{ID: uuid.New(), RealmID: &realmID, Name: "user:write", Target: strPtr("team-a")},
		{ID: uuid.New(), Name: "realm:read"},
	}

	set := NewAbilitySet(permissions)

	assert.True(t, set.Has("user:read"))
	assert.True(t, set.Has("realm:read"))
	assert.False(t, set.Has("realm:write"))

	ability, ok := set.Find("user:write")
	require.True(t, ok)
	require.NotNil(t, ability.Target)
	assert.Equal(t, "team-a", *ability.Target)

	_, ok = set.Find("missing")
	assert.False(t, ok)
}

func TestCanWriteTarget(t *testing.T) {
	set := NewAbilitySet([]Permission{
		{ID: uuid.New(), Name: "user:write", Target: strPtr("team-a")},
		{ID: uuid.New(), Name: "realm:write"},
	})

	// Exact target match only, no wildcards.
	assert.True(t, set.CanWriteTarget("user:write", "team-a"))
	assert.False(t, set.CanWriteTarget("user:write", "team-b"))
	assert.False(t, set.CanWriteTarget("user:write", "team-a*"))

	// Untargeted permission writes anywhere.
	assert.True(t, set.CanWriteTarget("realm:write", "whatever"))

	// Ungranted permission never writes.
	assert.False(t, set.CanWriteTarget("robot:write", "team-a"))
}

func TestFindPermissionsForPrincipal(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	realmID := uuid.New()

	read, err := store.CreatePermission(ctx, CreatePermissionParams{RealmID: &realmID, Name: "user:read"})
	require.NoError(t, err)
	write, err := store.CreatePermission(ctx, CreatePermissionParams{RealmID: &realmID, Name: "user:write"})
	require.NoError(t, err)

	role, err := store.CreateRole(ctx, CreateRoleParams{RealmID: &realmID, Name: "admin"})
	require.NoError(t, err)
	require.NoError(t, store.AddRolePermission(ctx, role.ID, read.ID))
	require.NoError(t, store.AddRolePermission(ctx, role.ID, write.ID))

	userID := uuid.New()
	require.NoError(t, store.AddUserRole(ctx, userID, role.ID))
	// Direct grant overlapping a role-derived one must not duplicate.
	require.NoError(t, store.AddUserPermission(ctx, userID, read.ID))

	permissions, err := store.FindPermissionsForPrincipal(ctx, userID, iam.SubjectKindUser)
	require.NoError(t, err)
	assert.Len(t, permissions, 2)

	robotID := uuid.New()
	require.NoError(t, store.AddRobotPermission(ctx, robotID, read.ID))
	permissions, err = store.FindPermissionsForPrincipal(ctx, robotID, iam.SubjectKindRobot)
	require.NoError(t, err)
	assert.Len(t, permissions, 1)
}

func TestReplaceUserRoles(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	realmID := uuid.New()

	admin, _ := store.CreateRole(ctx, CreateRoleParams{RealmID: &realmID, Name: "admin"})
	analyst, _ := store.CreateRole(ctx, CreateRoleParams{RealmID: &realmID, Name: "analyst"})

	userID := uuid.New()
	require.NoError(t, store.AddUserRole(ctx, userID, admin.ID))

	// Full replace: admin is revoked, analyst granted.
	require.NoError(t, store.ReplaceUserRoles(ctx, userID, []uuid.UUID{analyst.ID}))

	ids, err := store.FindUserRoleIDs(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{analyst.ID}, ids)
}
