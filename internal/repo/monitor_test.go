package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func newTestMonitor(t *testing.T, rt roundTripFunc) *MonitorClient {
	t.Helper()
	client, err := NewMonitorClient("sub-1", "rg-1", StaticToken("tok"), newTestARMOptions(rt))
	if err != nil {
		t.Fatalf("new monitor client: %v", err)
	}
	return client
}

func TestMonitorEnsureActionGroupExisting(t *testing.T) {
	client := newTestMonitor(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet {
			t.Fatalf("existing group must not be rewritten, got %s", req.Method)
		}
		return jsonResponse(http.StatusOK, `{"id":"/ag/nva_actions"}`), nil
	})

	id, err := client.EnsureActionGroup(context.Background(), "nva_actions", "RunbookWebhookReceiver", "https://agent/hook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "/ag/nva_actions" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestMonitorEnsureActionGroupCreates(t *testing.T) {
	var methods []string
	client := newTestMonitor(t, func(req *http.Request) (*http.Response, error) {
		methods = append(methods, req.Method)
		if req.Method == http.MethodGet {
			return jsonResponse(http.StatusNotFound, `{}`), nil
		}
		var body struct {
			Location   string `json:"location"`
			Properties struct {
				GroupShortName   string `json:"groupShortName"`
				WebhookReceivers []struct {
					Name       string `json:"name"`
					ServiceURI string `json:"serviceUri"`
				} `json:"webhookReceivers"`
			} `json:"properties"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Location != "Global" || len(body.Properties.WebhookReceivers) != 1 {
			t.Fatalf("unexpected payload %+v", body)
		}
		if body.Properties.WebhookReceivers[0].Name != "RunbookWebhookReceiver" {
			t.Fatalf("unexpected receiver %+v", body.Properties.WebhookReceivers[0])
		}
		if len(body.Properties.GroupShortName) > 12 {
			t.Fatalf("short name too long: %q", body.Properties.GroupShortName)
		}
		return jsonResponse(http.StatusCreated, `{"id":"/ag/new"}`), nil
	})

	id, err := client.EnsureActionGroup(context.Background(), "nva_actions_long_name", "RunbookWebhookReceiver", "https://agent/hook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "/ag/new" || strings.Join(methods, ",") != "GET,PUT" {
		t.Fatalf("unexpected result id=%q methods=%v", id, methods)
	}
}

func TestMonitorEnsureActivityLogAlert(t *testing.T) {
	client := newTestMonitor(t, func(req *http.Request) (*http.Response, error) {
		if req.Method == http.MethodGet {
			return jsonResponse(http.StatusNotFound, `{}`), nil
		}
		if !strings.Contains(req.URL.Path, "/resourceGroups/rg-1/providers/Microsoft.Insights/activityLogAlerts/runbook_source") {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		var body struct {
			Properties struct {
				Scopes    []string `json:"scopes"`
				Condition struct {
					AllOf []struct {
						Field string `json:"field"`
						AnyOf []struct {
							Equals string `json:"equals"`
						} `json:"anyOf"`
					} `json:"allOf"`
				} `json:"condition"`
				Actions struct {
					ActionGroups []struct {
						ActionGroupID string `json:"actionGroupId"`
					} `json:"actionGroups"`
				} `json:"actions"`
			} `json:"properties"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		props := body.Properties
		if len(props.Scopes) != 1 || len(props.Condition.AllOf) != 3 || len(props.Condition.AllOf[0].AnyOf) != 2 {
			t.Fatalf("unexpected alert rule %+v", props)
		}
		if props.Condition.AllOf[0].AnyOf[1].Equals != OperationRunbookDelete {
			t.Fatalf("delete operation missing from condition %+v", props.Condition)
		}
		if len(props.Actions.ActionGroups) != 1 || props.Actions.ActionGroups[0].ActionGroupID != "/ag/nva_actions" {
			t.Fatalf("unexpected actions %+v", props.Actions)
		}
		return jsonResponse(http.StatusCreated, `{}`), nil
	})

	created, err := client.EnsureActivityLogAlert(context.Background(), ActivityLogAlert{
		Name:          "runbook_source",
		Scope:         "/subscriptions/sub-1/resourceGroups/rg-1/providers/Microsoft.Automation/automationAccounts/acct-1",
		ActionGroupID: "/ag/nva_actions",
	})
	if err != nil || !created {
		t.Fatalf("expected alert to be created, got created=%v err=%v", created, err)
	}
}

func TestMonitorEnsureActivityLogAlertServerError(t *testing.T) {
	client := newTestMonitor(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, `boom`), nil
	})

	if _, err := client.EnsureActivityLogAlert(context.Background(), ActivityLogAlert{Name: "runbook_source"}); err == nil {
		t.Fatalf("expected error")
	}
}
