// Package groups evaluates device group predicates. Membership is always
// computed from the live device table; nothing is materialized, so a
// device that informs with a new software version moves between groups
// on its next evaluation.
package groups

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

// Matcher resolves device groups to device sets via SQL predicates.
type Matcher struct {
	db     *gorm.DB
	groups *store.GroupStore
}

func NewMatcher(db *gorm.DB, groups *store.GroupStore) *Matcher {
	return &Matcher{db: db, groups: groups}
}

// ruleColumns maps rule fields to device table columns. Only listed
// fields may appear in rules.
var ruleColumns = map[string]string{
	models.FieldManufacturer:    "manufacturer",
	models.FieldOUI:             "oui",
	models.FieldProductClass:    "product_class",
	models.FieldModelName:       "model_name",
	models.FieldSoftwareVersion: "software_version",
	models.FieldHardwareVersion: "hardware_version",
	models.FieldSerialNumber:    "serial_number",
	models.FieldIPAddress:       "ip_address",
	models.FieldOnline:          "online",
	models.FieldDataModelRoot:   "data_model_root",
}

// ValidateRules rejects rules with unknown fields or operators before
// they are persisted.
func ValidateRules(rules []models.DeviceGroupRule) error {
	for _, r := range rules {
		if _, ok := ruleColumns[r.Field]; !ok {
			return fmt.Errorf("%w: %s", models.ErrInvalidRuleField, r.Field)
		}
		switch r.Operator {
		case models.OpEquals, models.OpNotEquals, models.OpContains,
			models.OpStartsWith, models.OpEndsWith:
		default:
			return fmt.Errorf("%w: %s", models.ErrInvalidOperator, r.Operator)
		}
	}
	return nil
}

// query builds the device query for a group's rule set.
func (m *Matcher) query(ctx context.Context, g *models.DeviceGroup) (*gorm.DB, error) {
	rules, err := store.DecodeRules(g)
	if err != nil {
		return nil, err
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}

	q := m.db.WithContext(ctx).Model(&models.Device{})
	if len(rules) == 0 {
		// A ruleless group matches nothing rather than everything.
		return q.Where("1 = 0"), nil
	}

	var clauses []string
	var args []interface{}
	for _, r := range rules {
		clause, arg := ruleSQL(r)
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	joiner := " AND "
	if g.MatchType == models.MatchTypeAny {
		joiner = " OR "
	}
	return q.Where(strings.Join(clauses, joiner), args...), nil
}

// likeClause carries the explicit ESCAPE: SQLite LIKE has no default
// escape character, so without it an escaped wildcard matches nothing.
const likeClause = ` LIKE ? ESCAPE '\'`

func ruleSQL(r models.DeviceGroupRule) (string, interface{}) {
	col := ruleColumns[r.Field]
	switch r.Operator {
	case models.OpNotEquals:
		return col + " != ?", r.Value
	case models.OpContains:
		return col + likeClause, "%" + escapeLike(r.Value) + "%"
	case models.OpStartsWith:
		return col + likeClause, escapeLike(r.Value) + "%"
	case models.OpEndsWith:
		return col + likeClause, "%" + escapeLike(r.Value)
	default:
		if col == "online" {
			return col + " = ?", r.Value == "true"
		}
		return col + " = ?", r.Value
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// Devices returns a page of group members, ordered by device id.
func (m *Matcher) Devices(ctx context.Context, groupID string, offset, limit int) ([]models.Device, error) {
	g, err := m.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	q, err := m.query(ctx, g)
	if err != nil {
		return nil, err
	}
	var devices []models.Device
	q = q.Order("id ASC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return devices, q.Find(&devices).Error
}

// DeviceIDs returns every member id of a group, for workflow fan-out.
func (m *Matcher) DeviceIDs(ctx context.Context, groupID string) ([]string, error) {
	g, err := m.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	q, err := m.query(ctx, g)
	if err != nil {
		return nil, err
	}
	var ids []string
	return ids, q.Order("id ASC").Pluck("id", &ids).Error
}

// Count returns the current member count of a group.
func (m *Matcher) Count(ctx context.Context, groupID string) (int64, error) {
	g, err := m.groups.Get(ctx, groupID)
	if err != nil {
		return 0, err
	}
	q, err := m.query(ctx, g)
	if err != nil {
		return 0, err
	}
	var n int64
	return n, q.Count(&n).Error
}

// Preview evaluates a rule set against a single in-memory device without
// touching the database. It backs the dry-run endpoint operators use
// while authoring rules.
func Preview(device *models.Device, matchType string, rules []models.DeviceGroupRule) (bool, error) {
	if err := ValidateRules(rules); err != nil {
		return false, err
	}
	if len(rules) == 0 {
		return false, nil
	}
	anyMode := matchType == models.MatchTypeAny
	for _, r := range rules {
		hit := evalRule(device, r)
		if anyMode && hit {
			return true, nil
		}
		if !anyMode && !hit {
			return false, nil
		}
	}
	return !anyMode, nil
}

func evalRule(device *models.Device, r models.DeviceGroupRule) bool {
	val := fieldValue(device, r.Field)
	switch r.Operator {
	case models.OpEquals:
		return val == r.Value
	case models.OpNotEquals:
		return val != r.Value
	case models.OpContains:
		return strings.Contains(val, r.Value)
	case models.OpStartsWith:
		return strings.HasPrefix(val, r.Value)
	case models.OpEndsWith:
		return strings.HasSuffix(val, r.Value)
	}
	return false
}

func fieldValue(device *models.Device, field string) string {
	switch field {
	case models.FieldManufacturer:
		return device.Manufacturer
	case models.FieldOUI:
		return device.OUI
	case models.FieldProductClass:
		return device.ProductClass
	case models.FieldModelName:
		return device.ModelName
	case models.FieldSoftwareVersion:
		return device.SoftwareVersion
	case models.FieldHardwareVersion:
		return device.HardwareVersion
	case models.FieldSerialNumber:
		return device.SerialNumber
	case models.FieldIPAddress:
		return device.IPAddress
	case models.FieldOnline:
		if device.Online {
			return "true"
		}
		return "false"
	case models.FieldDataModelRoot:
		return device.DataModelRoot
	}
	return ""
}
