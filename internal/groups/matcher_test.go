package groups

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

func newMatcherEnv(t *testing.T) (*Matcher, *store.GroupStore, *gorm.DB) {
	t.Helper()
	db, err := database.Open(&config.Database{Path: filepath.Join(t.TempDir(), "acs.db")})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	groups := store.NewGroupStore(db)
	return NewMatcher(db, groups), groups, db
}

func seedDevices(t *testing.T, db *gorm.DB) {
	t.Helper()
	devices := []models.Device{
		{ID: "001122-SN0001", Manufacturer: "Acme Networks", OUI: "001122",
			ProductClass: "HomeRouter", SoftwareVersion: "1.2.3",
			DataModelRoot: models.RootTR098, Online: true},
		{ID: "001122-SN0002", Manufacturer: "Acme Networks", OUI: "001122",
			ProductClass: "HomeRouter", SoftwareVersion: "2.0.0",
			DataModelRoot: models.RootTR098, Online: false},
		{ID: "AABBCC-SN0003", Manufacturer: "Borealis", OUI: "AABBCC",
			ProductClass: "FiberGateway", SoftwareVersion: "2.0.1",
			DataModelRoot: models.RootTR181, Online: true},
	}
	for i := range devices {
		require.NoError(t, db.Create(&devices[i]).Error)
	}
}

func createGroup(t *testing.T, groups *store.GroupStore, matchType string, rules []models.DeviceGroupRule) string {
	t.Helper()
	g := &models.DeviceGroup{Name: "g-" + t.Name(), MatchType: matchType}
	require.NoError(t, groups.Create(context.Background(), g, rules))
	return g.ID
}

func TestMatchAllCombinesWithAnd(t *testing.T) {
	m, groups, db := newMatcherEnv(t)
	seedDevices(t, db)

	id := createGroup(t, groups, models.MatchTypeAll, []models.DeviceGroupRule{
		{Field: models.FieldManufacturer, Operator: models.OpEquals, Value: "Acme Networks"},
		{Field: models.FieldSoftwareVersion, Operator: models.OpStartsWith, Value: "1."},
	})

	ids, err := m.DeviceIDs(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"001122-SN0001"}, ids)
}

func TestMatchAnyCombinesWithOr(t *testing.T) {
	m, groups, db := newMatcherEnv(t)
	seedDevices(t, db)

	id := createGroup(t, groups, models.MatchTypeAny, []models.DeviceGroupRule{
		{Field: models.FieldSoftwareVersion, Operator: models.OpStartsWith, Value: "1."},
		{Field: models.FieldDataModelRoot, Operator: models.OpEquals, Value: models.RootTR181},
	})

	n, err := m.Count(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestOperators(t *testing.T) {
	m, groups, db := newMatcherEnv(t)
	seedDevices(t, db)

	cases := []struct {
		name string
		rule models.DeviceGroupRule
		want []string
	}{
		{"equals", models.DeviceGroupRule{Field: models.FieldProductClass, Operator: models.OpEquals, Value: "FiberGateway"},
			[]string{"AABBCC-SN0003"}},
		{"not equals", models.DeviceGroupRule{Field: models.FieldOUI, Operator: models.OpNotEquals, Value: "001122"},
			[]string{"AABBCC-SN0003"}},
		{"contains", models.DeviceGroupRule{Field: models.FieldManufacturer, Operator: models.OpContains, Value: "real"},
			[]string{"AABBCC-SN0003"}},
		{"starts with", models.DeviceGroupRule{Field: models.FieldSoftwareVersion, Operator: models.OpStartsWith, Value: "2.0"},
			[]string{"001122-SN0002", "AABBCC-SN0003"}},
		{"ends with", models.DeviceGroupRule{Field: models.FieldSoftwareVersion, Operator: models.OpEndsWith, Value: ".3"},
			[]string{"001122-SN0001"}},
		{"online flag", models.DeviceGroupRule{Field: models.FieldOnline, Operator: models.OpEquals, Value: "true"},
			[]string{"001122-SN0001", "AABBCC-SN0003"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &models.DeviceGroup{Name: "g-" + tc.name, MatchType: models.MatchTypeAll}
			require.NoError(t, groups.Create(context.Background(), g, []models.DeviceGroupRule{tc.rule}))
			ids, err := m.DeviceIDs(context.Background(), g.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestWildcardCharactersMatchLiterally(t *testing.T) {
	m, groups, db := newMatcherEnv(t)
	require.NoError(t, db.Create(&models.Device{
		ID: "001122-SN0010", Manufacturer: "Acme Networks", OUI: "001122",
		ProductClass: "HomeRouter", SoftwareVersion: "FW_1.2.3",
		DataModelRoot: models.RootTR098, Online: true,
	}).Error)
	require.NoError(t, db.Create(&models.Device{
		ID: "001122-SN0011", Manufacturer: "Acme Networks", OUI: "001122",
		ProductClass: "HomeRouter", SoftwareVersion: "FWX1.2.3",
		DataModelRoot: models.RootTR098, Online: true,
	}).Error)

	// Underscore in the rule value must match only a literal underscore,
	// not act as the LIKE single-character wildcard.
	id := createGroup(t, groups, models.MatchTypeAll, []models.DeviceGroupRule{
		{Field: models.FieldSoftwareVersion, Operator: models.OpContains, Value: "FW_1"},
	})
	ids, err := m.DeviceIDs(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"001122-SN0010"}, ids)

	g := &models.DeviceGroup{Name: "g-percent", MatchType: models.MatchTypeAll}
	require.NoError(t, groups.Create(context.Background(), g, []models.DeviceGroupRule{
		{Field: models.FieldSoftwareVersion, Operator: models.OpContains, Value: "100%"},
	}))
	n, err := m.Count(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRulelessGroupMatchesNothing(t *testing.T) {
	m, groups, db := newMatcherEnv(t)
	seedDevices(t, db)

	id := createGroup(t, groups, models.MatchTypeAll, nil)
	n, err := m.Count(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDevicesPagination(t *testing.T) {
	m, groups, db := newMatcherEnv(t)
	seedDevices(t, db)

	id := createGroup(t, groups, models.MatchTypeAny, []models.DeviceGroupRule{
		{Field: models.FieldOUI, Operator: models.OpNotEquals, Value: ""},
	})

	page, err := m.Devices(context.Background(), id, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "001122-SN0001", page[0].ID)

	rest, err := m.Devices(context.Background(), id, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "AABBCC-SN0003", rest[0].ID)
}

func TestValidateRulesRejectsUnknowns(t *testing.T) {
	err := ValidateRules([]models.DeviceGroupRule{
		{Field: "bogus", Operator: models.OpEquals, Value: "x"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidRuleField)

	err = ValidateRules([]models.DeviceGroupRule{
		{Field: models.FieldOUI, Operator: "regex", Value: "x"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidOperator)
}

func TestPreviewEvaluatesWithoutDatabase(t *testing.T) {
	device := &models.Device{
		Manufacturer:    "Acme Networks",
		SoftwareVersion: "1.2.3",
		Online:          true,
	}

	ok, err := Preview(device, models.MatchTypeAll, []models.DeviceGroupRule{
		{Field: models.FieldManufacturer, Operator: models.OpContains, Value: "Acme"},
		{Field: models.FieldOnline, Operator: models.OpEquals, Value: "true"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Preview(device, models.MatchTypeAll, []models.DeviceGroupRule{
		{Field: models.FieldManufacturer, Operator: models.OpContains, Value: "Acme"},
		{Field: models.FieldSoftwareVersion, Operator: models.OpStartsWith, Value: "9."},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Preview(device, models.MatchTypeAny, []models.DeviceGroupRule{
		{Field: models.FieldSoftwareVersion, Operator: models.OpStartsWith, Value: "9."},
		{Field: models.FieldOnline, Operator: models.OpEquals, Value: "true"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Preview(device, models.MatchTypeAll, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
