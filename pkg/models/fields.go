package models

import "sort"

// Fields is a partial column update: column name to new value. Values for
// JSON columns (metadata, progress, metrics) may be any JSON-serializable
// value; time columns take time.Time.
type Fields map[string]any

// Keys returns the column names in a stable order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// ExecutionFields lists every column UpdateExecution may touch besides status.
var ExecutionFields = map[string]bool{
	ExecutionFieldTotalSteps:     true,
	ExecutionFieldCompletedSteps: true,
	ExecutionFieldCurrentStep:    true,
	ExecutionFieldMetadata:       true,
	ExecutionFieldErrorMessage:   true,
	ExecutionFieldCompletedAt:    true,
}

// StepFields lists every column UpdateStep may touch besides status.
var StepFields = map[string]bool{
	StepFieldRetryCount:     true,
	StepFieldMaxRetries:     true,
	StepFieldDurationMs:     true,
	StepFieldTokensInput:    true,
	StepFieldTokensOutput:   true,
	StepFieldCost:           true,
	StepFieldModelName:      true,
	StepFieldCacheHitTokens: true,
	StepFieldRequestCount:   true,
	StepFieldProgress:       true,
	StepFieldMetrics:        true,
	StepFieldErrorMessage:   true,
	StepFieldErrorStack:     true,
	StepFieldStartedAt:      true,
	StepFieldCompletedAt:    true,
}

// JSONFields are columns stored as serialized JSON.
var JSONFields = map[string]bool{
	ExecutionFieldMetadata: true,
	StepFieldProgress:      true,
	StepFieldMetrics:       true,
}
