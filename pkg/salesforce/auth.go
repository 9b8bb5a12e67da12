package salesforce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const DefaultLoginURL = "https://login.salesforce.com"

// DefaultTimeout bounds a single request when Credentials.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// Credentials selects how to authenticate. A non-empty AccessToken together
// with InstanceURL skips the password flow.
type Credentials struct {
	LoginURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	AccessToken   string
	InstanceURL   string
	APIVersion    string
	Timeout       time.Duration
}

var ErrNoCredentials = errors.New("salesforce: no access token or username/password configured")

// Connect authenticates and returns a ready client. Requests, including the
// token exchange, are traced.
func Connect(ctx context.Context, creds Credentials) (*Client, error) {
	timeout := creds.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	if creds.AccessToken != "" && creds.InstanceURL != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
		return NewClient(authorized(ctx, ts, timeout), creds.InstanceURL, creds.APIVersion, nil), nil
	}

	if creds.Username == "" || creds.Password == "" {
		return nil, ErrNoCredentials
	}

	loginURL := creds.LoginURL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(loginURL, "/") + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	tok, err := conf.PasswordCredentialsToken(ctx, creds.Username, creds.Password+creds.SecurityToken)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	if instanceURL == "" {
		instanceURL = creds.InstanceURL
	}
	if instanceURL == "" {
		return nil, errors.New("salesforce: token response carries no instance_url")
	}

	// Tokens from the password flow carry no refresh token, so a static source is used.
	return NewClient(authorized(ctx, oauth2.StaticTokenSource(tok), timeout), instanceURL, creds.APIVersion, nil), nil
}

// authorized wraps the context client with ts. oauth2.NewClient drops the
// base client's timeout, so it is set again.
func authorized(ctx context.Context, ts oauth2.TokenSource, timeout time.Duration) *http.Client {
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = timeout
	return hc
}
