package secure

import (
	"fmt"

	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/models"
)

// PolicyViolationError reports a request no policy-permitted provider could
// serve. It names the policy and the classified sensitivity so audit and API
// responses can explain the refusal.
type PolicyViolationError struct {
	Policy      config.PolicyName
	Sensitivity models.Sensitivity
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy %s forbids routing %s tasks to any configured provider",
		e.Policy, e.Sensitivity)
}

// cloudFloor returns the lowest sensitivity a policy refuses to send to
// cloud providers. Anything at or above the floor must stay local.
func cloudFloor(policy config.PolicyName) models.Sensitivity {
	switch policy {
	case config.PolicyComplianceLocalOnly:
		// Everything stays local.
		return models.SensitivityPublic
	case config.PolicyEnterpriseResidency:
		// INTERNAL and above stay local; only PUBLIC may go to cloud.
		return models.SensitivityInternal
	default: // default_local_first
		return models.SensitivitySensitive
	}
}

// allowsCloud reports whether the policy permits cloud residency for the
// given sensitivity. Offline mode forbids cloud outright.
func allowsCloud(policy config.PolicyName, sensitivity models.Sensitivity, offline bool) bool {
	if offline {
		return false
	}
	return !sensitivity.AtLeast(cloudFloor(policy))
}
