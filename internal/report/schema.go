package report

import (
	"encoding/json"
	"sort"
	"strings"
)

type fieldType int

const (
	typeString fieldType = iota
	typeCount            // integer >= 0
	typeUnit             // float in [0,1]
	typeEnum
	typeStringList
)

func (t fieldType) String() string {
	switch t {
	case typeString:
		return "string"
	case typeCount:
		return "integer >= 0"
	case typeUnit:
		return "number between 0 and 1"
	case typeEnum:
		return "enum"
	case typeStringList:
		return "list of strings"
	}
	return "unknown"
}

type field struct {
	Name        string
	Type        fieldType
	Values      []string
	Description string
	Default     any
}

var levels = []string{"Low", "Medium", "High"}

// Lenient-mode defaults.
const (
	DefaultReportType      = "general_forecast"
	DefaultRegion          = "Unspecified region"
	DefaultRiskLevel       = "Medium"
	DefaultTimeline        = "Next 30 days"
	DefaultRecommendations = "Maintain standard surge preparedness protocols."
	DefaultConfidenceScore = 0.7

	DefaultDepartment    = "Emergency"
	DefaultRequiredStaff = 1
	DefaultStaffType     = "Nurses"
	DefaultShiftSchedule = "12-hour rotating shifts"
	DefaultBackupPlan    = "Activate on-call staff roster"

	DefaultItemCategory     = "General supplies"
	DefaultItemName         = "Unspecified item"
	DefaultRequiredQuantity = 100
	DefaultCurrentStock     = 10
	DefaultReorderThreshold = 20
	DefaultUrgency          = "Medium"

	DefaultAdvisoryType   = "general"
	DefaultLanguage       = "English"
	DefaultTargetAudience = "General public"
	DefaultMessage        = "Follow hospital guidance and seek care early if symptoms appear."
)

var (
	DefaultAffectedDepartments  = []string{"Emergency"}
	DefaultDistributionChannels = []string{"Hospital notice board", "SMS"}
)

var schemas = map[Kind][]field{
	KindSurgeReport: {
		{Name: "report_type", Type: typeString, Description: "festival_forecast, pollution_risk, epidemic_alert, etc.", Default: DefaultReportType},
		{Name: "region", Type: typeString, Description: "Region or area covered", Default: DefaultRegion},
		{Name: "risk_level", Type: typeEnum, Values: levels, Description: "Overall surge risk", Default: DefaultRiskLevel},
		{Name: "timeline", Type: typeString, Description: "Timeline for the predicted surge", Default: DefaultTimeline},
		{Name: "affected_departments", Type: typeStringList, Description: "Departments likely affected", Default: DefaultAffectedDepartments},
		{Name: "recommendations", Type: typeString, Description: "Specific recommendations and action items", Default: DefaultRecommendations},
		{Name: "confidence_score", Type: typeUnit, Description: "Prediction confidence (0-1)", Default: DefaultConfidenceScore},
	},
	KindStaffingPlan: {
		{Name: "department", Type: typeString, Description: "Hospital department", Default: DefaultDepartment},
		{Name: "required_staff", Type: typeCount, Description: "Required number of staff", Default: DefaultRequiredStaff},
		{Name: "staff_type", Type: typeString, Description: "Doctors, nurses, technicians", Default: DefaultStaffType},
		{Name: "shift_schedule", Type: typeString, Description: "Recommended shift schedule", Default: DefaultShiftSchedule},
		{Name: "backup_plan", Type: typeString, Description: "Emergency backup plan", Default: DefaultBackupPlan},
	},
	KindInventoryRequirement: {
		{Name: "item_category", Type: typeString, Description: "Medicines, PPE, equipment", Default: DefaultItemCategory},
		{Name: "item_name", Type: typeString, Description: "Specific item name", Default: DefaultItemName},
		{Name: "required_quantity", Type: typeCount, Description: "Required quantity", Default: DefaultRequiredQuantity},
		{Name: "current_stock", Type: typeCount, Description: "Current stock level", Default: DefaultCurrentStock},
		{Name: "reorder_threshold", Type: typeCount, Description: "Reorder threshold", Default: DefaultReorderThreshold},
		{Name: "urgency", Type: typeEnum, Values: levels, Description: "Procurement urgency", Default: DefaultUrgency},
	},
	KindPatientAdvisory: {
		{Name: "advisory_type", Type: typeString, Description: "preventive, emergency, general", Default: DefaultAdvisoryType},
		{Name: "language", Type: typeString, Description: "Language of the advisory", Default: DefaultLanguage},
		{Name: "target_audience", Type: typeString, Description: "Target audience", Default: DefaultTargetAudience},
		{Name: "message", Type: typeString, Description: "Advisory message content", Default: DefaultMessage},
		{Name: "distribution_channels", Type: typeStringList, Description: "Distribution channels", Default: DefaultDistributionChannels},
	},
}

// elementKind is the per-object schema behind a kind.
func elementKind(k Kind) Kind {
	if k == KindStaffingPlanList {
		return KindStaffingPlan
	}
	return k
}

// FieldNames returns the declared fields of a schema in order.
func FieldNames(k Kind) []string {
	fields := schemas[elementKind(k)]
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Example renders a JSON example of the schema for prompt instructions.
func Example(k Kind) string {
	obj := make(map[string]any)
	for _, f := range schemas[elementKind(k)] {
		switch f.Type {
		case typeEnum:
			obj[f.Name] = strings.Join(f.Values, " | ")
		case typeStringList:
			obj[f.Name] = []string{"<" + f.Description + ">"}
		case typeCount:
			obj[f.Name] = 0
		case typeUnit:
			obj[f.Name] = 0.0
		default:
			obj[f.Name] = "<" + f.Description + ">"
		}
	}
	var v any = obj
	if k == KindStaffingPlanList {
		v = []any{obj}
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

// Instructions describes each field's type and allowed values.
func Instructions(k Kind) string {
	var b strings.Builder
	for _, f := range schemas[elementKind(k)] {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(" (")
		b.WriteString(f.Type.String())
		if len(f.Values) > 0 {
			b.WriteString(": one of ")
			b.WriteString(strings.Join(f.Values, ", "))
		}
		b.WriteString("): ")
		b.WriteString(f.Description)
		b.WriteString("\n")
	}
	return b.String()
}

func declared(k Kind) map[string]bool {
	out := make(map[string]bool)
	for _, f := range schemas[k] {
		out[f.Name] = true
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
