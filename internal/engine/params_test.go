package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestParamRegistryPlan(t *testing.T) {
	reg := testRegistry()

	plan, err := reg.Plan([]string{"subscriptionid:get_subscription_id()", "vmname:GET_VM_NAMES()", "region:get_aws_region()"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.FanoutParam != "vmname" || !plan.HasFanout() {
		t.Fatalf("expected vmname fan-out, got %+v", plan)
	}
	if plan.Static["subscriptionid"] != "sub-1" || plan.Static["region"] != "us-east-1" {
		t.Fatalf("unexpected static params %+v", plan.Static)
	}
	if _, ok := plan.Static["vmname"]; ok {
		t.Fatalf("fan-out parameter must not be resolved statically")
	}
}

func TestParamRegistryPlanRejectsBadBindings(t *testing.T) {
	reg := testRegistry()

	if _, err := reg.Plan([]string{"a:get_tenant_id()", "b:"}); !errors.Is(err, ErrEmptyResolver) {
		t.Fatalf("expected ErrEmptyResolver, got %v", err)
	}
	if _, err := reg.Plan([]string{"a:get_tenant_id()", "b:drop_database()"}); !errors.Is(err, ErrUnknownResolver) {
		t.Fatalf("expected ErrUnknownResolver, got %v", err)
	}

	plan, err := reg.Plan(nil)
	if err != nil || plan.HasFanout() || len(plan.Static) != 0 {
		t.Fatalf("expected empty plan, got %+v err %v", plan, err)
	}
}

func TestParamRegistryDescribe(t *testing.T) {
	desc := testRegistry().Describe()
	for _, fn := range []string{"get_subscription_id()", "get_resource_group_name()", "get_tenant_id()", "get_vm_names()", "get_aws_access_key()", "get_aws_secret_key()", "get_aws_region()"} {
		if !strings.Contains(desc, fn+": ") {
			t.Fatalf("description missing %s:\n%s", fn, desc)
		}
	}
}
