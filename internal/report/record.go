// Package report defines the structured task outputs and the validator that
// turns raw model text into them.
package report

import (
	"encoding/json"
	"fmt"
)

// Kind selects the schema a task's output must satisfy.
type Kind string

const (
	KindSurgeReport          Kind = "SurgeReport"
	KindStaffingPlan         Kind = "StaffingPlan"
	KindStaffingPlanList     Kind = "StaffingPlanList"
	KindInventoryRequirement Kind = "InventoryRequirement"
	KindPatientAdvisory      Kind = "PatientAdvisory"
)

// ParseKind resolves a schema name as written in task configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSurgeReport, KindStaffingPlan, KindStaffingPlanList, KindInventoryRequirement, KindPatientAdvisory:
		return k, nil
	}
	return "", fmt.Errorf("unknown output schema %q", s)
}

type SurgeReport struct {
	ReportType          string   `json:"report_type"`
	Region              string   `json:"region"`
	RiskLevel           string   `json:"risk_level"`
	Timeline            string   `json:"timeline"`
	AffectedDepartments []string `json:"affected_departments"`
	Recommendations     string   `json:"recommendations"`
	ConfidenceScore     float64  `json:"confidence_score"`
}

type StaffingPlan struct {
	Department    string `json:"department"`
	RequiredStaff int    `json:"required_staff"`
	StaffType     string `json:"staff_type"`
	ShiftSchedule string `json:"shift_schedule"`
	BackupPlan    string `json:"backup_plan"`
}

type InventoryRequirement struct {
	ItemCategory     string `json:"item_category"`
	ItemName         string `json:"item_name"`
	RequiredQuantity int    `json:"required_quantity"`
	CurrentStock     int    `json:"current_stock"`
	ReorderThreshold int    `json:"reorder_threshold"`
	Urgency          string `json:"urgency"`
}

type PatientAdvisory struct {
	AdvisoryType         string   `json:"advisory_type"`
	Language             string   `json:"language"`
	TargetAudience       string   `json:"target_audience"`
	Message              string   `json:"message"`
	DistributionChannels []string `json:"distribution_channels"`
}

// Record is a validated task output. Exactly one payload is set, chosen by
// Kind. Staffing holds one plan for KindStaffingPlan.
type Record struct {
	Kind      Kind
	Surge     *SurgeReport
	Staffing  []StaffingPlan
	Inventory *InventoryRequirement
	Advisory  *PatientAdvisory

	// Repaired lists fields filled from defaults in lenient mode.
	Repaired []string
}

type recordJSON struct {
	Kind     Kind            `json:"kind"`
	Data     json.RawMessage `json:"data"`
	Repaired []string        `json:"repaired,omitempty"`
}

// Payload returns the variant value held by the record.
func (r Record) Payload() any {
	switch r.Kind {
	case KindSurgeReport:
		return r.Surge
	case KindStaffingPlan:
		if len(r.Staffing) == 1 {
			return r.Staffing[0]
		}
		return nil
	case KindStaffingPlanList:
		return r.Staffing
	case KindInventoryRequirement:
		return r.Inventory
	case KindPatientAdvisory:
		return r.Advisory
	}
	return nil
}

// Summary is a one-line description used in logs and the TUI.
func (r Record) Summary() string {
	switch r.Kind {
	case KindSurgeReport:
		if r.Surge != nil {
			return fmt.Sprintf("%s risk %s (%.2f) %s", r.Surge.ReportType, r.Surge.RiskLevel, r.Surge.ConfidenceScore, r.Surge.Timeline)
		}
	case KindStaffingPlan, KindStaffingPlanList:
		total := 0
		for _, p := range r.Staffing {
			total += p.RequiredStaff
		}
		return fmt.Sprintf("%d plan(s), %d staff", len(r.Staffing), total)
	case KindInventoryRequirement:
		if r.Inventory != nil {
			return fmt.Sprintf("%s: need %d, have %d (%s)", r.Inventory.ItemName, r.Inventory.RequiredQuantity, r.Inventory.CurrentStock, r.Inventory.Urgency)
		}
	case KindPatientAdvisory:
		if r.Advisory != nil {
			return fmt.Sprintf("%s advisory in %s for %s", r.Advisory.AdvisoryType, r.Advisory.Language, r.Advisory.TargetAudience)
		}
	}
	return string(r.Kind)
}

func (r Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(r.Payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordJSON{Kind: r.Kind, Data: data, Repaired: r.Repaired})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	kind, err := ParseKind(string(raw.Kind))
	if err != nil {
		return err
	}
	out := Record{Kind: kind, Repaired: raw.Repaired}
	switch kind {
	case KindSurgeReport:
		out.Surge = new(SurgeReport)
		err = json.Unmarshal(raw.Data, out.Surge)
	case KindStaffingPlan:
		var p StaffingPlan
		err = json.Unmarshal(raw.Data, &p)
		out.Staffing = []StaffingPlan{p}
	case KindStaffingPlanList:
		err = json.Unmarshal(raw.Data, &out.Staffing)
	case KindInventoryRequirement:
		out.Inventory = new(InventoryRequirement)
		err = json.Unmarshal(raw.Data, out.Inventory)
	case KindPatientAdvisory:
		out.Advisory = new(PatientAdvisory)
		err = json.Unmarshal(raw.Data, out.Advisory)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	*r = out
	return nil
}
