package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

var complete = map[Kind]map[string]any{
	KindSurgeReport: {
		"report_type":          "festival_forecast",
		"region":               "North District",
		"risk_level":           "High",
		"timeline":             "Oct 20 - Nov 5",
		"affected_departments": []string{"Emergency", "Burns"},
		"recommendations":      "Add two triage desks.",
		"confidence_score":     0.82,
	},
	KindStaffingPlan: {
		"department":     "Emergency",
		"required_staff": 14,
		"staff_type":     "Nurses",
		"shift_schedule": "8-hour shifts",
		"backup_plan":    "Recall off-duty staff",
	},
	KindInventoryRequirement: {
		"item_category":     "Medicines",
		"item_name":         "Salbutamol inhalers",
		"required_quantity": 400,
		"current_stock":     120,
		"reorder_threshold": 150,
		"urgency":           "High",
	},
	KindPatientAdvisory: {
		"advisory_type":         "preventive",
		"language":              "Hindi",
		"target_audience":       "Asthma patients",
		"message":               "Stay indoors during peak smog hours.",
		"distribution_channels": []string{"SMS", "Radio"},
	},
}

// expectedDefaults maps each schema field to its lenient-mode default.
var expectedDefaults = map[Kind]map[string]any{
	KindSurgeReport: {
		"report_type":          DefaultReportType,
		"region":               DefaultRegion,
		"risk_level":           DefaultRiskLevel,
		"timeline":             DefaultTimeline,
		"affected_departments": DefaultAffectedDepartments,
		"recommendations":      DefaultRecommendations,
		"confidence_score":     DefaultConfidenceScore,
	},
	KindStaffingPlan: {
		"department":     DefaultDepartment,
		"required_staff": DefaultRequiredStaff,
		"staff_type":     DefaultStaffType,
		"shift_schedule": DefaultShiftSchedule,
		"backup_plan":    DefaultBackupPlan,
	},
	KindInventoryRequirement: {
		"item_category":     DefaultItemCategory,
		"item_name":         DefaultItemName,
		"required_quantity": DefaultRequiredQuantity,
		"current_stock":     DefaultCurrentStock,
		"reorder_threshold": DefaultReorderThreshold,
		"urgency":           DefaultUrgency,
	},
	KindPatientAdvisory: {
		"advisory_type":         DefaultAdvisoryType,
		"language":              DefaultLanguage,
		"target_audience":       DefaultTargetAudience,
		"message":               DefaultMessage,
		"distribution_channels": DefaultDistributionChannels,
	},
}

func without(obj map[string]any, field string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != field {
			out[k] = v
		}
	}
	return out
}

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// fieldValue reads a field back out of a validated record.
func fieldValue(t *testing.T, rec Record, name string) any {
	t.Helper()
	data, err := json.Marshal(rec.Payload())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m[name]
}

func normalize(t *testing.T, v any) any {
	t.Helper()
	var out any
	require.NoError(t, json.Unmarshal([]byte(encode(t, v)), &out))
	return out
}

func TestValidate_Complete(t *testing.T) {
	v := NewValidator(ModeStrict)
	for kind, obj := range complete {
		t.Run(string(kind), func(t *testing.T) {
			rec, err := v.Validate(encode(t, obj), kind)
			require.NoError(t, err)
			assert.Equal(t, kind, rec.Kind)
			assert.Empty(t, rec.Repaired)
		})
	}
}

func TestValidate_MissingField(t *testing.T) {
	strict := NewValidator(ModeStrict)
	lenient := NewValidator(ModeLenient)

	for kind, obj := range complete {
		for _, name := range FieldNames(kind) {
			t.Run(fmt.Sprintf("%s/%s", kind, name), func(t *testing.T) {
				raw := encode(t, without(obj, name))

				_, err := strict.Validate(raw, kind)
				var schemaErr *SchemaValidationError
				require.ErrorAs(t, err, &schemaErr)
				assert.Equal(t, core.KindSchemaValidation, core.KindOf(err))
				require.Len(t, schemaErr.Issues, 1)
				assert.Equal(t, name, schemaErr.Issues[0].Field)

				rec, err := lenient.Validate(raw, kind)
				require.NoError(t, err)
				assert.Equal(t, []string{name}, rec.Repaired)
				assert.Equal(t, normalize(t, expectedDefaults[kind][name]), fieldValue(t, rec, name))
			})
		}
	}
}

func TestValidate_DefaultsAreNotZeroValues(t *testing.T) {
	for kind, defaults := range expectedDefaults {
		for name, def := range defaults {
			assert.NotEmpty(t, def, "%s.%s", kind, name)
		}
	}
}

func TestValidate_ExtraFieldRejectedInBothModes(t *testing.T) {
	for _, mode := range []Mode{ModeStrict, ModeLenient} {
		v := NewValidator(mode)
		for kind, obj := range complete {
			t.Run(fmt.Sprintf("%s/%s", mode, kind), func(t *testing.T) {
				extra := without(obj, "")
				extra["notes"] = "unexpected"

				_, err := v.Validate(encode(t, extra), kind)
				var schemaErr *SchemaValidationError
				require.ErrorAs(t, err, &schemaErr)
				assert.Equal(t, "notes", schemaErr.Issues[0].Field)
				assert.Equal(t, "undeclared field", schemaErr.Issues[0].Problem)
			})
		}
	}
}

func TestValidate_WrongTypeRejectedInLenientMode(t *testing.T) {
	v := NewValidator(ModeLenient)
	tests := []struct {
		kind  Kind
		field string
		value any
	}{
		{KindSurgeReport, "confidence_score", "very high"},
		{KindSurgeReport, "confidence_score", 1.5},
		{KindSurgeReport, "risk_level", "Catastrophic"},
		{KindSurgeReport, "affected_departments", "Emergency"},
		{KindStaffingPlan, "required_staff", -3},
		{KindStaffingPlan, "required_staff", 2.5},
		{KindInventoryRequirement, "current_stock", "plenty"},
		{KindPatientAdvisory, "distribution_channels", []any{"SMS", 4}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s=%v", tt.kind, tt.field, tt.value), func(t *testing.T) {
			obj := without(complete[tt.kind], "")
			obj[tt.field] = tt.value

			_, err := v.Validate(encode(t, obj), tt.kind)
			var schemaErr *SchemaValidationError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.field, schemaErr.Issues[0].Field)
		})
	}
}

func TestValidate_NullCountsAsMissing(t *testing.T) {
	obj := without(complete[KindSurgeReport], "")
	obj["risk_level"] = nil

	_, err := NewValidator(ModeStrict).Validate(encode(t, obj), KindSurgeReport)
	require.Error(t, err)

	rec, err := NewValidator(ModeLenient).Validate(encode(t, obj), KindSurgeReport)
	require.NoError(t, err)
	assert.Equal(t, DefaultRiskLevel, rec.Surge.RiskLevel)
}

func TestValidate_EnumCanonicalized(t *testing.T) {
	obj := without(complete[KindInventoryRequirement], "")
	obj["urgency"] = " high "

	rec, err := NewValidator(ModeStrict).Validate(encode(t, obj), KindInventoryRequirement)
	require.NoError(t, err)
	assert.Equal(t, "High", rec.Inventory.Urgency)
}

func TestValidate_ExtractsFromFencesAndProse(t *testing.T) {
	body := encode(t, complete[KindSurgeReport])
	inputs := []string{
		"```json\n" + body + "\n```",
		"Here is the forecast:\n" + body + "\nLet me know if you need more.",
		"```" + body + "```",
	}
	for i, raw := range inputs {
		rec, err := NewValidator(ModeStrict).Validate(raw, KindSurgeReport)
		require.NoError(t, err, "input %d", i)
		assert.Equal(t, "High", rec.Surge.RiskLevel)
	}
}

func TestValidate_NotJSON(t *testing.T) {
	for _, raw := range []string{"", "   ", "I could not complete the task.", "{broken"} {
		_, err := NewValidator(ModeLenient).Validate(raw, KindSurgeReport)
		var schemaErr *SchemaValidationError
		require.ErrorAs(t, err, &schemaErr, "input %q", raw)
	}
}

func TestValidate_StaffingPlanList(t *testing.T) {
	plan := complete[KindStaffingPlan]
	v := NewValidator(ModeStrict)

	rec, err := v.Validate(encode(t, []any{plan, plan}), KindStaffingPlanList)
	require.NoError(t, err)
	assert.Len(t, rec.Staffing, 2)
	assert.Equal(t, "2 plan(s), 28 staff", rec.Summary())

	rec, err = v.Validate(encode(t, plan), KindStaffingPlanList)
	require.NoError(t, err)
	assert.Len(t, rec.Staffing, 1)

	_, err = v.Validate("[]", KindStaffingPlanList)
	require.Error(t, err)

	_, err = v.Validate(encode(t, []any{plan}), KindStaffingPlan)
	require.Error(t, err, "a single-plan schema does not accept a list")
}

func TestValidate_StaffingPlanListElementsIndependent(t *testing.T) {
	good := complete[KindStaffingPlan]
	missing := without(good, "backup_plan")
	raw := encode(t, []any{good, missing, good})

	_, err := NewValidator(ModeStrict).Validate(raw, KindStaffingPlanList)
	var schemaErr *SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, schemaErr.Issues, 1)
	assert.Equal(t, 1, schemaErr.Issues[0].Index)
	assert.Contains(t, err.Error(), "[1].backup_plan")

	rec, err := NewValidator(ModeLenient).Validate(raw, KindStaffingPlanList)
	require.NoError(t, err)
	require.Len(t, rec.Staffing, 3)
	assert.Equal(t, DefaultBackupPlan, rec.Staffing[1].BackupPlan)
	assert.Equal(t, good["backup_plan"], rec.Staffing[0].BackupPlan)
	assert.Equal(t, []string{"[1].backup_plan"}, rec.Repaired)

	bad := without(good, "")
	bad["required_staff"] = "many"
	_, err = NewValidator(ModeLenient).Validate(encode(t, []any{good, bad}), KindStaffingPlanList)
	require.Error(t, err, "wrong type fails the whole batch even in lenient mode")
}

func TestRecord_JSONRoundTripKeepsKind(t *testing.T) {
	rec, err := NewValidator(ModeStrict).Validate(encode(t, complete[KindPatientAdvisory]), KindPatientAdvisory)
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"kind":"PatientAdvisory"`))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec, back)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Lenient")
	require.NoError(t, err)
	assert.Equal(t, ModeLenient, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	_, err = ParseMode("loose")
	assert.Error(t, err)
}

func TestExample_ListsEveryField(t *testing.T) {
	for kind := range complete {
		ex := Example(kind)
		for _, name := range FieldNames(kind) {
			assert.Contains(t, ex, `"`+name+`"`)
		}
	}
	assert.True(t, strings.HasPrefix(Example(KindStaffingPlanList), "["))
	assert.Contains(t, Instructions(KindSurgeReport), "risk_level (enum: one of Low, Medium, High)")
}
