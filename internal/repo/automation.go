package repo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/automation/armautomation"

	"github.com/akhi19-dev/incident-agent/internal/models"
)

const automationAPIVersion = "2023-11-01"

// ContentFetchError reports a failed answer while downloading runbook source.
type ContentFetchError struct {
	Runbook    string
	StatusCode int
	Err        error
}

func (e *ContentFetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch content for runbook %s: status %d", e.Runbook, e.StatusCode)
	}
	return fmt.Sprintf("fetch content for runbook %s: status %d: %v", e.Runbook, e.StatusCode, e.Err)
}

func (e *ContentFetchError) Unwrap() error { return e.Err }

// AutomationClient wraps the Azure Automation management API for one automation account.
type AutomationClient struct {
	jobs         *armautomation.JobClient
	streams      *armautomation.JobStreamClient
	runbooks     *armautomation.RunbookClient
	schedules    *armautomation.ScheduleClient
	jobSchedules *armautomation.JobScheduleClient
	// content serves the raw script download, which is text rather than a JSON model.
	content *arm.Client

	subscriptionID string
	resourceGroup  string
	account        string
}

// NewAutomationClient constructs a client for the given automation account.
func NewAutomationClient(subscriptionID, resourceGroup, account string, cred azcore.TokenCredential, options *arm.ClientOptions) (*AutomationClient, error) {
	factory, err := armautomation.NewClientFactory(subscriptionID, cred, options)
	if err != nil {
		return nil, fmt.Errorf("create automation clients: %w", err)
	}
	content, err := arm.NewClient("incident-agent/repo", "v1.0.0", cred, options)
	if err != nil {
		return nil, fmt.Errorf("create automation content client: %w", err)
	}
	return &AutomationClient{
		jobs:           factory.NewJobClient(),
		streams:        factory.NewJobStreamClient(),
		runbooks:       factory.NewRunbookClient(),
		schedules:      factory.NewScheduleClient(),
		jobSchedules:   factory.NewJobScheduleClient(),
		content:        content,
		subscriptionID: subscriptionID,
		resourceGroup:  resourceGroup,
		account:        account,
	}, nil
}

// AccountResourceID is the ARM id of the automation account.
func (c *AutomationClient) AccountResourceID() string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Automation/automationAccounts/%s",
		c.subscriptionID, c.resourceGroup, c.account)
}

// RunbookContent downloads the published script of a runbook.
func (c *AutomationClient) RunbookContent(ctx context.Context, name string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("automation client not initialised")
	}
	endpoint := runtime.JoinPaths(c.content.Endpoint(), c.AccountResourceID(), "runbooks", url.PathEscape(name), "content")
	req, err := runtime.NewRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return "", fmt.Errorf("build content request for runbook %s: %w", name, err)
	}
	query := req.Raw().URL.Query()
	query.Set("api-version", automationAPIVersion)
	req.Raw().URL.RawQuery = query.Encode()
	req.Raw().Header["Accept"] = []string{"text/powershell"}

	resp, err := c.content.Pipeline().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch content for runbook %s: %w", name, err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return "", &ContentFetchError{Runbook: name, StatusCode: resp.StatusCode, Err: runtime.NewResponseError(resp)}
	}
	data, err := runtime.Payload(resp)
	if err != nil {
		return "", fmt.Errorf("read content for runbook %s: %w", name, err)
	}
	return string(data), nil
}

// ListRunbooks returns every runbook registered on the account across all pages.
func (c *AutomationClient) ListRunbooks(ctx context.Context) ([]models.RemoteRunbook, error) {
	if c == nil {
		return nil, fmt.Errorf("automation client not initialised")
	}
	var runbooks []models.RemoteRunbook
	pager := c.runbooks.NewListByAutomationAccountPager(c.resourceGroup, c.account, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list runbooks: %w", err)
		}
		for _, rb := range page.Value {
			if rb == nil {
				continue
			}
			remote := models.RemoteRunbook{Name: deref(rb.Name)}
			if p := rb.Properties; p != nil {
				if p.RunbookType != nil {
					remote.RunbookType = string(*p.RunbookType)
				}
				if p.State != nil {
					remote.State = string(*p.State)
				}
				remote.LastModified = p.LastModifiedTime
			}
			runbooks = append(runbooks, remote)
		}
	}
	return runbooks, nil
}

// CreateJob starts runbook immediately under jobName.
func (c *AutomationClient) CreateJob(ctx context.Context, jobName, runbook string, params map[string]string) error {
	if c == nil {
		return fmt.Errorf("automation client not initialised")
	}
	body := armautomation.JobCreateParameters{
		Properties: &armautomation.JobCreateProperties{
			Runbook:    &armautomation.RunbookAssociationProperty{Name: to.Ptr(runbook)},
			Parameters: stringPtrs(params),
			RunOn:      to.Ptr(""),
		},
	}
	if _, err := c.jobs.Create(ctx, c.resourceGroup, c.account, jobName, body, nil); err != nil {
		return fmt.Errorf("create job for runbook %s: %w", runbook, err)
	}
	return nil
}

// GetJobStatus reads the current state of a job.
func (c *AutomationClient) GetJobStatus(ctx context.Context, jobName string) (models.JobStatus, error) {
	if c == nil {
		return "", fmt.Errorf("automation client not initialised")
	}
	resp, err := c.jobs.Get(ctx, c.resourceGroup, c.account, jobName, nil)
	if err != nil {
		return "", fmt.Errorf("get job %s: %w", jobName, err)
	}
	if resp.Properties == nil || resp.Properties.Status == nil {
		return "", nil
	}
	return models.JobStatus(*resp.Properties.Status), nil
}

// GetJobOutput joins the non-empty stream summaries of a job, one per line.
func (c *AutomationClient) GetJobOutput(ctx context.Context, jobName string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("automation client not initialised")
	}
	var summaries []string
	pager := c.streams.NewListByJobPager(c.resourceGroup, c.account, jobName, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("get job output %s: %w", jobName, err)
		}
		for _, s := range page.Value {
			if s == nil || s.Properties == nil {
				continue
			}
			if summary := deref(s.Properties.Summary); summary != "" {
				summaries = append(summaries, summary)
			}
		}
	}
	return strings.Join(summaries, "\n"), nil
}

// CreateSchedule creates or replaces a schedule resource.
func (c *AutomationClient) CreateSchedule(ctx context.Context, spec models.ScheduleSpec) error {
	if c == nil {
		return fmt.Errorf("automation client not initialised")
	}
	start, err := time.Parse(time.RFC3339, spec.StartTime)
	if err != nil {
		return fmt.Errorf("create schedule %s: start time: %w", spec.Name, err)
	}
	props := &armautomation.ScheduleCreateOrUpdateProperties{
		Description: to.Ptr(spec.Description),
		StartTime:   to.Ptr(start),
		Interval:    spec.Interval,
		Frequency:   to.Ptr(armautomation.ScheduleFrequency(spec.Frequency)),
		TimeZone:    to.Ptr(spec.TimeZone),
	}
	if spec.ExpiryTime != "" {
		expiry, err := time.Parse(time.RFC3339, spec.ExpiryTime)
		if err != nil {
			return fmt.Errorf("create schedule %s: expiry time: %w", spec.Name, err)
		}
		props.ExpiryTime = to.Ptr(expiry)
	}
	body := armautomation.ScheduleCreateOrUpdateParameters{Name: to.Ptr(spec.Name), Properties: props}
	if _, err := c.schedules.CreateOrUpdate(ctx, c.resourceGroup, c.account, spec.Name, body, nil); err != nil {
		return fmt.Errorf("create schedule %s: %w", spec.Name, err)
	}
	return nil
}

// CreateJobSchedule binds runbook and params to an existing schedule.
func (c *AutomationClient) CreateJobSchedule(ctx context.Context, jobScheduleID, scheduleName, runbook string, params map[string]string) error {
	if c == nil {
		return fmt.Errorf("automation client not initialised")
	}
	body := armautomation.JobScheduleCreateParameters{
		Properties: &armautomation.JobScheduleCreateProperties{
			Schedule:   &armautomation.ScheduleAssociationProperty{Name: to.Ptr(scheduleName)},
			Runbook:    &armautomation.RunbookAssociationProperty{Name: to.Ptr(runbook)},
			Parameters: stringPtrs(params),
		},
	}
	if _, err := c.jobSchedules.Create(ctx, c.resourceGroup, c.account, jobScheduleID, body, nil); err != nil {
		return fmt.Errorf("bind runbook %s to schedule %s: %w", runbook, scheduleName, err)
	}
	return nil
}

func stringPtrs(params map[string]string) map[string]*string {
	out := make(map[string]*string, len(params))
	for k, v := range params {
		out[k] = to.Ptr(v)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
