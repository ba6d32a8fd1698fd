package repo

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
)

// Runbook lifecycle operations the source alert listens for.
const (
	OperationRunbookPublish = "Microsoft.Automation/automationAccounts/runbooks/publish/action"
	OperationRunbookDelete  = "Microsoft.Automation/automationAccounts/runbooks/delete"
)

// MonitorClient manages the Azure Monitor resources that notify the agent of runbook changes.
type MonitorClient struct {
	actionGroups  *armmonitor.ActionGroupsClient
	alerts        *armmonitor.ActivityLogAlertsClient
	resourceGroup string
}

// NewMonitorClient constructs a client scoped to one resource group.
func NewMonitorClient(subscriptionID, resourceGroup string, cred azcore.TokenCredential, options *arm.ClientOptions) (*MonitorClient, error) {
	factory, err := armmonitor.NewClientFactory(subscriptionID, cred, options)
	if err != nil {
		return nil, fmt.Errorf("create monitor clients: %w", err)
	}
	return &MonitorClient{
		actionGroups:  factory.NewActionGroupsClient(),
		alerts:        factory.NewActivityLogAlertsClient(),
		resourceGroup: resourceGroup,
	}, nil
}

// ActivityLogAlert describes a runbook-change alert routed to an action group.
type ActivityLogAlert struct {
	Name          string
	Scope         string
	ActionGroupID string
	Description   string
}

// EnsureActionGroup returns the id of the named action group, creating it with a single
// webhook receiver when absent.
func (c *MonitorClient) EnsureActionGroup(ctx context.Context, name, receiverName, serviceURI string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("monitor client not initialised")
	}
	existing, err := c.actionGroups.Get(ctx, c.resourceGroup, name, nil)
	if err == nil && deref(existing.ID) != "" {
		return *existing.ID, nil
	}
	if err != nil && !isNotFound(err) {
		return "", fmt.Errorf("get action group %s: %w", name, err)
	}

	shortName := name
	if len(shortName) > 12 {
		shortName = shortName[:12]
	}
	group := armmonitor.ActionGroupResource{
		Location: to.Ptr("Global"),
		Properties: &armmonitor.ActionGroup{
			GroupShortName: to.Ptr(shortName),
			Enabled:        to.Ptr(true),
			WebhookReceivers: []*armmonitor.WebhookReceiver{{
				Name:                 to.Ptr(receiverName),
				ServiceURI:           to.Ptr(serviceURI),
				UseCommonAlertSchema: to.Ptr(false),
			}},
		},
	}
	created, err := c.actionGroups.CreateOrUpdate(ctx, c.resourceGroup, name, group, nil)
	if err != nil {
		return "", fmt.Errorf("create action group %s: %w", name, err)
	}
	return deref(created.ID), nil
}

// EnsureActivityLogAlert creates the runbook publish/delete alert when it does not exist.
// It reports whether a new alert was created.
func (c *MonitorClient) EnsureActivityLogAlert(ctx context.Context, alert ActivityLogAlert) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("monitor client not initialised")
	}
	_, err := c.alerts.Get(ctx, c.resourceGroup, alert.Name, nil)
	if err == nil {
		return false, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("get activity log alert %s: %w", alert.Name, err)
	}

	rule := armmonitor.ActivityLogAlertResource{
		Location: to.Ptr("Global"),
		Properties: &armmonitor.AlertRuleProperties{
			Scopes:      []*string{to.Ptr(alert.Scope)},
			Enabled:     to.Ptr(true),
			Description: to.Ptr(alert.Description),
			Condition: &armmonitor.AlertRuleAllOfCondition{
				AllOf: []*armmonitor.AlertRuleAnyOfOrLeafCondition{
					{AnyOf: []*armmonitor.AlertRuleLeafCondition{
						{Field: to.Ptr("operationName"), Equals: to.Ptr(OperationRunbookPublish)},
						{Field: to.Ptr("operationName"), Equals: to.Ptr(OperationRunbookDelete)},
					}},
					{Field: to.Ptr("category"), Equals: to.Ptr("Administrative")},
					{Field: to.Ptr("resourceType"), Equals: to.Ptr("microsoft.automation/automationaccounts/runbooks")},
				},
			},
			Actions: &armmonitor.ActionList{
				ActionGroups: []*armmonitor.ActionGroupAutoGenerated{{ActionGroupID: to.Ptr(alert.ActionGroupID)}},
			},
		},
	}
	if _, err := c.alerts.CreateOrUpdate(ctx, c.resourceGroup, alert.Name, rule, nil); err != nil {
		return false, fmt.Errorf("create activity log alert %s: %w", alert.Name, err)
	}
	return true, nil
}
