package quarantine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guildguard/internal/models"
)

type fakeRoleAPI struct {
	roles   []models.Role
	set     map[string]int64
	failSet map[string]error
}

func newFakeRoleAPI(roles ...models.Role) *fakeRoleAPI {
	return &fakeRoleAPI{roles: roles, set: make(map[string]int64)}
}

func (f *fakeRoleAPI) ListRoles(context.Context, string) ([]models.Role, error) {
	return f.roles, nil
}

func (f *fakeRoleAPI) SetRolePermissions(_ context.Context, _, roleID string, permissions int64) error {
	if err := f.failSet[roleID]; err != nil {
		return err
	}
	f.set[roleID] = permissions
	return nil
}

func testGuild() *models.GuildContext {
	return &models.GuildContext{ID: "g1", BotTopRolePosition: 10}
}

func TestActivateStripsExactlyDangerousBits(t *testing.T) {
	const benign = int64(1 << 10) // view channel
	api := newFakeRoleAPI(
		models.Role{ID: "r1", Position: 3, Permissions: PermBanMembers | PermManageChannels | benign},
	)
	c := NewController(api, zap.NewNop())

	require.NoError(t, c.Activate(context.Background(), testGuild(), "attacker"))

	got, ok := api.set["r1"]
	require.True(t, ok)
	assert.Equal(t, benign, got)
	assert.True(t, c.IsActive("g1"))
}

func TestActivateSkipsManagedAndUnreachableRoles(t *testing.T) {
	api := newFakeRoleAPI(
		models.Role{ID: "managed", Position: 2, Permissions: PermAdministrator, Managed: true},
		models.Role{ID: "above", Position: 10, Permissions: PermAdministrator},
		models.Role{ID: "harmless", Position: 2, Permissions: 1 << 10},
	)
	c := NewController(api, zap.NewNop())

	require.NoError(t, c.Activate(context.Background(), testGuild(), "attacker"))
	assert.Empty(t, api.set)
}

func TestActivateIsIdempotent(t *testing.T) {
	api := newFakeRoleAPI(models.Role{ID: "r1", Position: 3, Permissions: PermBanMembers})
	c := NewController(api, zap.NewNop())

	require.NoError(t, c.Activate(context.Background(), testGuild(), "first"))
	api.set = make(map[string]int64)

	require.NoError(t, c.Activate(context.Background(), testGuild(), "second"))
	assert.Empty(t, api.set, "second activation must not touch roles")
}

func TestDeactivateRestoresVerbatim(t *testing.T) {
	original := PermBanMembers | PermManageRoles | int64(1<<10)
	api := newFakeRoleAPI(models.Role{ID: "r1", Position: 3, Permissions: original})
	c := NewController(api, zap.NewNop())

	require.NoError(t, c.Activate(context.Background(), testGuild(), "attacker"))
	require.NoError(t, c.Deactivate(context.Background(), testGuild(), "owner"))

	assert.Equal(t, original, api.set["r1"])
	assert.False(t, c.IsActive("g1"))

	// The saved map is consumed: a second deactivation is a no-op.
	api.set = make(map[string]int64)
	require.NoError(t, c.Deactivate(context.Background(), testGuild(), "owner"))
	assert.Empty(t, api.set)
}

func TestActivateCollectsPerRoleFailures(t *testing.T) {
	api := newFakeRoleAPI(
		models.Role{ID: "r1", Position: 3, Permissions: PermBanMembers},
		models.Role{ID: "r2", Position: 4, Permissions: PermAdministrator},
	)
	api.failSet = map[string]error{"r1": errors.New("missing access")}
	c := NewController(api, zap.NewNop())

	err := c.Activate(context.Background(), testGuild(), "attacker")
	require.Error(t, err)
	// The failure on r1 did not stop r2 from being stripped.
	assert.Contains(t, api.set, "r2")
	assert.True(t, c.IsActive("g1"))
}
