package repo

import (
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

// newTestARMOptions routes SDK clients through rt against https://arm.test without retries.
func newTestARMOptions(rt roundTripFunc) *arm.ClientOptions {
	opts, err := ARMOptions("https://arm.test", time.Second, newTestClient(rt))
	if err != nil {
		panic(err)
	}
	opts.Retry.MaxRetries = -1
	return opts
}
