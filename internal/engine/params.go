package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/models"
)

// FanoutFunction marks the parameter resolved per VM named in the incident.
const FanoutFunction = "get_vm_names()"

var (
	// ErrUnknownResolver is returned when a stored argument names a function outside the registry.
	ErrUnknownResolver = errors.New("unknown parameter resolver")
	// ErrEmptyResolver is returned when a stored argument has no resolver function.
	ErrEmptyResolver = errors.New("empty parameter resolver")
)

type resolver struct {
	description string
	value       func() string
}

// ParamRegistry is the closed set of functions runbook parameters may be bound to.
type ParamRegistry struct {
	resolvers map[string]resolver
}

// ResolutionPlan is the outcome of binding a runbook's args against the registry.
type ResolutionPlan struct {
	Static      map[string]string
	FanoutParam string
}

// HasFanout reports whether a parameter is bound to the VM extractor.
func (p ResolutionPlan) HasFanout() bool {
	return p.FanoutParam != ""
}

// NewParamRegistry builds the registry from deployment settings.
func NewParamRegistry(azure config.AzureConfig, aws config.AWSConfig) *ParamRegistry {
	constant := func(v string) func() string { return func() string { return v } }
	return &ParamRegistry{resolvers: map[string]resolver{
		"get_subscription_id()":     {"This will return the Azure subscription ID associated with the account.", constant(azure.SubscriptionID)},
		"get_resource_group_name()": {"Returns the name of the Azure resource group where resources are located.", constant(azure.ResourceGroup)},
		"get_tenant_id()":           {"Returns the Azure Active Directory tenant ID associated with the subscription.", constant(azure.TenantID)},
		FanoutFunction:              {"Returns the names of vm names", nil},
		"get_aws_access_key()":      {"Return access key for AWS", constant(aws.AccessKeyID)},
		"get_aws_secret_key()":      {"Return secret for AWS", constant(aws.SecretAccessKey)},
		"get_aws_region()":          {"Returns aws region", constant(aws.Region)},
	}}
}

// Describe lists every function and its description, one per line, for the analysis prompt.
func (r *ParamRegistry) Describe() string {
	names := make([]string, 0, len(r.resolvers))
	for name := range r.resolvers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", name, r.resolvers[name].description)
	}
	return b.String()
}

// Known reports whether fn names a registry function. Matching ignores case.
func (r *ParamRegistry) Known(fn string) bool {
	_, ok := r.resolvers[strings.ToLower(strings.TrimSpace(fn))]
	return ok
}

// Plan binds stored "parameter:function" args. Every binding is checked before any resolver
// runs, so an unknown or empty function leaves nothing half-resolved.
func (r *ParamRegistry) Plan(args []string) (ResolutionPlan, error) {
	bindings := make([]models.ArgBinding, 0, len(args))
	for _, raw := range args {
		b := models.ParseArgBinding(raw)
		b.Function = strings.ToLower(b.Function)
		if b.Function == "" {
			return ResolutionPlan{}, fmt.Errorf("%w for parameter %q", ErrEmptyResolver, b.Parameter)
		}
		if _, ok := r.resolvers[b.Function]; !ok {
			return ResolutionPlan{}, fmt.Errorf("%w %q for parameter %q", ErrUnknownResolver, b.Function, b.Parameter)
		}
		bindings = append(bindings, b)
	}

	plan := ResolutionPlan{Static: make(map[string]string, len(bindings))}
	for _, b := range bindings {
		if b.Function == FanoutFunction {
			plan.FanoutParam = b.Parameter
			continue
		}
		plan.Static[b.Parameter] = r.resolvers[b.Function].value()
	}
	return plan, nil
}
