package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/akhi19-dev/incident-agent/internal/utils"
)

const noteRule = "-----------------------------------"

// ServiceNowClient reads and annotates incidents through the ServiceNow table API.
type ServiceNowClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewServiceNowClient constructs a basic-auth client for the instance.
func NewServiceNowClient(instanceURL, username, password string, timeout time.Duration) *ServiceNowClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := strings.TrimRight(instanceURL, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &ServiceNowClient{
		baseURL:    base,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// InstanceURL is the normalised instance base URL.
func (c *ServiceNowClient) InstanceURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// GetDescription returns the current description of an incident.
func (c *ServiceNowClient) GetDescription(ctx context.Context, sysID string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("servicenow client not initialised")
	}
	var body struct {
		Result struct {
			Description string `json:"description"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, http.MethodGet, sysID, nil, &body); err != nil {
		return "", fmt.Errorf("get incident %s: %w", sysID, err)
	}
	return body.Result.Description, nil
}

// UpdateDescription replaces the description of an incident.
func (c *ServiceNowClient) UpdateDescription(ctx context.Context, sysID, description string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("servicenow client not initialised")
	}
	payload := map[string]string{"description": description}
	if err := c.doJSON(ctx, http.MethodPatch, sysID, payload, nil); err != nil {
		return fmt.Errorf("update incident %s: %w", sysID, err)
	}
	return nil
}

// AppendJobNote appends a job status block to the incident description.
func (c *ServiceNowClient) AppendJobNote(ctx context.Context, sysID, status, output string, at time.Time) error {
	prev, err := c.GetDescription(ctx, sysID)
	if err != nil {
		return err
	}
	return c.UpdateDescription(ctx, sysID, AppendJobNote(prev, status, output, at))
}

// AppendJobNote renders the job status block and appends it to prev.
func AppendJobNote(prev, status, output string, at time.Time) string {
	var b strings.Builder
	if prev != "" {
		b.WriteString(prev)
		b.WriteString("\n\n")
	}
	b.WriteString(noteRule)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Job execution status : %s at %s \n\n", status, utils.FormatNoteTime(at))
	b.WriteString("Output:\n")
	b.WriteString(output)
	b.WriteString("\n")
	b.WriteString(noteRule)
	b.WriteString("\n")
	return b.String()
}

func (c *ServiceNowClient) doJSON(ctx context.Context, method, sysID string, payload, out any) error {
	endpoint := c.baseURL + "/api/now/table/incident/" + url.PathEscape(sysID)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("servicenow returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode servicenow response: %w", err)
	}
	return nil
}
