package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const publicManagementURL = "https://management.azure.com"

// StaticToken is a credential returning a fixed bearer token. It serves the local mock.
type StaticToken string

// GetToken returns the fixed token with a one hour lifetime.
func (s StaticToken) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: string(s), ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// NewCredential builds a client-secret credential for a service principal.
func NewCredential(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("azure tenant, client id and secret are required")
	}
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}
	return cred, nil
}

// ARMOptions returns SDK client options for managementURL. A non-public endpoint, such as
// the local mock, gets its own cloud configuration with provider registration disabled.
// transport may be nil.
func ARMOptions(managementURL string, timeout time.Duration, transport policy.Transporter) (*arm.ClientOptions, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := &arm.ClientOptions{}
	opts.Retry.TryTimeout = timeout
	if transport != nil {
		opts.Transport = transport
	}

	endpoint := strings.TrimRight(managementURL, "/")
	if endpoint == "" || endpoint == publicManagementURL {
		return opts, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid management url %q", managementURL)
	}
	opts.Cloud = cloud.Configuration{
		ActiveDirectoryAuthorityHost: cloud.AzurePublic.ActiveDirectoryAuthorityHost,
		Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
			cloud.ResourceManager: {Endpoint: endpoint, Audience: publicManagementURL},
		},
	}
	opts.DisableRPRegistration = true
	opts.InsecureAllowCredentialWithHTTP = u.Scheme == "http"
	return opts, nil
}

func responseStatus(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func isNotFound(err error) bool {
	return responseStatus(err) == http.StatusNotFound
}
