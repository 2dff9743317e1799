package main

import (
	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// clientTimeoutSeconds is the hard ceiling on any backend call. Per-call
// deadlines set through the request context are shorter.
const clientTimeoutSeconds = 60

// Doer is the part of tls_client.HttpClient the backend code needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// proxySetter is implemented by tls_client.HttpClient.
type proxySetter interface {
	SetProxy(proxyURL string) error
}

// DefaultTLSProfile is the ClientHello presented to the backend.
// Set to okhttp4AndroidProfile in tls_okhttp.go.
var DefaultTLSProfile = okhttp4AndroidProfile

func NewClient(logger tls_client.Logger, proxyURL string) (tls_client.HttpClient, error) {
	return NewClientWithProfile(logger, proxyURL, DefaultTLSProfile)
}

func NewClientWithProfile(logger tls_client.Logger, proxyURL string, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(clientTimeoutSeconds),
		tls_client.WithClientProfile(profile),
		tls_client.WithNotFollowRedirects(),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}
