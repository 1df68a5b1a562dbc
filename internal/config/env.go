package config

import (
	"fmt"
	"os"
	"time"
)

// DiscoverCredentials merges configured keys with GEMINI_API_KEY,
// GEMINI_API_KEY_1..9 and GOOGLE_API_KEY, in that order, without
// duplicates.
func DiscoverCredentials(configured []string, getenv func(string) string) []string {
	names := []string{"GEMINI_API_KEY"}
	for i := 1; i <= 9; i++ {
		names = append(names, fmt.Sprintf("GEMINI_API_KEY_%d", i))
	}
	names = append(names, "GOOGLE_API_KEY")

	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range splitList(configured) {
		add(k)
	}
	for _, n := range names {
		add(getenv(n))
	}
	return keys
}

// OfflineCredential stands in for an API key when the backend needs none.
const OfflineCredential = "offline"

// Credentials returns the pool for the configured backend. Offline
// backends get a single placeholder so the rotator can be built.
func (c *Config) Credentials() []string {
	if c.LLM.Backend != BackendHTTP && len(c.LLM.APIKeys) == 0 {
		return []string{OfflineCredential}
	}
	return c.LLM.APIKeys
}

// Required run inputs.
var RequiredInputs = []string{"hospital_name", "region", "current_staffing", "administrator_name"}

// InputEnv maps run input names to the environment variables they are
// read from.
var InputEnv = map[string]string{
	"hospital_name":          "HOSPITAL_NAME",
	"region":                 "REGION",
	"historical_data_period": "HISTORICAL_DATA_PERIOD",
	"current_season":         "CURRENT_SEASON",
	"surveillance_data":      "SURVEILLANCE_DATA",
	"current_staffing":       "CURRENT_STAFFING",
	"budget_constraints":     "BUDGET_CONSTRAINTS",
	"current_inventory":      "CURRENT_INVENTORY",
	"vendor_details":         "VENDOR_DETAILS",
	"regional_languages":     "REGIONAL_LANGUAGES",
	"administrator_name":     "ADMINISTRATOR_NAME",
	"emergency_contacts":     "EMERGENCY_CONTACTS",
}

// InputDefaults fill optional inputs that were not given.
var InputDefaults = map[string]string{
	"historical_data_period": "2020-2024",
	"surveillance_data":      "Government health bulletins and hospital records",
	"current_inventory":      "Standard hospital inventory levels",
	"vendor_details":         "Approved medical suppliers",
	"regional_languages":     "Hindi,English",
}

// InputsFromEnv collects every known run input that is set in the
// environment. Unset inputs are left out.
func InputsFromEnv(getenv func(string) string) map[string]string {
	if getenv == nil {
		getenv = os.Getenv
	}
	inputs := make(map[string]string)
	for name, env := range InputEnv {
		if v := getenv(env); v != "" {
			inputs[name] = v
		}
	}
	return inputs
}

// CurrentDate formats t the way prompts expect it.
func CurrentDate(t time.Time) string {
	return t.Format("2006-01-02")
}
