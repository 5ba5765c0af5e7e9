// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the agent's environment-variable
// configuration: a typed Options struct that Parse fills and validates
// variable by variable, sourced from the process environment rather than
// a config file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Backend selects which DNS provider implementation the agent publishes
// through.
type Backend string

const (
	BackendRoute53 Backend = "route53"
	BackendAzureDNS Backend = "azuredns"
	BackendSQLRow  Backend = "sqlrow"
	BackendLogOnly Backend = "logonly"
)

// InvalidEnvironmentError reports a missing or malformed environment
// variable discovered at startup. The process logs it and exits; nothing
// is retried.
type InvalidEnvironmentError struct {
	Var    string
	Reason string
}

func (e *InvalidEnvironmentError) Error() string {
	return fmt.Sprintf("invalid environment: %s: %s", e.Var, e.Reason)
}

// Route53Options configures the change-batch backend.
type Route53Options struct {
	HostedZoneID string // ROUTE53_HOSTED_ZONE_ID
	Region       string // AWS_REGION, consumed by the SDK's own default config loader
}

// AzureDNSOptions configures the etag backend.
type AzureDNSOptions struct {
	SubscriptionID string // AZURE_SUBSCRIPTION_ID
	ResourceGroup  string // AZURE_RESOURCE_GROUP
	ZoneName       string // AZURE_PRIVATE_ZONE
}

// SQLRowOptions configures the SQL-row backend.
type SQLRowOptions struct {
	DSN string // SQLROW_DSN, a go-sql-driver/mysql data source name
}

// Options is the agent's full configuration, one field set per
// recognized environment variable.
type Options struct {
	Hostname      string // HOSTNAME
	BaseDomain    string // BASE_DOMAIN
	Backend       Backend // BACKEND

	LogLevel      string  // LOG_LEVEL, default INFO
	IPv6Only      bool    // IPV6_ONLY, default false
	EnableMetrics bool    // ENABLE_METRICS, default false
	RecordTTL     uint32  // RECORD_TTL, default 60
	HostIPAddress net.IP  // HOST_IP_ADDRESS, default unset
	DockerHost    string  // DOCKER_HOST, default unix:///var/run/docker.sock

	Route53  Route53Options
	AzureDNS AzureDNSOptions
	SQLRow   SQLRowOptions
}

var hostnameRE = func() func(string) bool {
	// HOSTNAME must be short: no dots.
	return func(s string) bool { return s != "" && !strings.Contains(s, ".") }
}()

// FromEnviron reads and validates Options from the process environment.
// It is the sole place InvalidEnvironmentError originates.
func FromEnviron() (Options, error) {
	return Parse(os.LookupEnv)
}

// Parse validates Options from an arbitrary lookup function, so tests can
// supply a fixed map instead of the real environment.
func Parse(lookup func(string) (string, bool)) (Options, error) {
	var opts Options

	opts.Hostname, _ = lookup("HOSTNAME")
	if !hostnameRE(opts.Hostname) {
		return Options{}, &InvalidEnvironmentError{Var: "HOSTNAME", Reason: "must be a short name with no dots"}
	}

	opts.BaseDomain, _ = lookup("BASE_DOMAIN")
	if opts.BaseDomain == "" {
		return Options{}, &InvalidEnvironmentError{Var: "BASE_DOMAIN", Reason: "must be set to the FQDN base zone"}
	}

	backendStr, ok := lookup("BACKEND")
	if !ok || backendStr == "" {
		return Options{}, &InvalidEnvironmentError{Var: "BACKEND", Reason: "must be one of route53, azuredns, sqlrow, logonly"}
	}
	opts.Backend = Backend(strings.ToLower(backendStr))
	switch opts.Backend {
	case BackendRoute53, BackendAzureDNS, BackendSQLRow, BackendLogOnly:
	default:
		return Options{}, &InvalidEnvironmentError{Var: "BACKEND", Reason: fmt.Sprintf("unrecognized backend %q", backendStr)}
	}

	opts.LogLevel = "INFO"
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		opts.LogLevel = strings.ToUpper(v)
	}
	switch opts.LogLevel {
	case "ERROR", "WARN", "INFO", "DEBUG":
	default:
		return Options{}, &InvalidEnvironmentError{Var: "LOG_LEVEL", Reason: "must be one of ERROR, WARN, INFO, DEBUG"}
	}

	opts.IPv6Only = boolEnv(lookup, "IPV6_ONLY", false)
	opts.EnableMetrics = boolEnv(lookup, "ENABLE_METRICS", false)

	opts.RecordTTL = 60
	if v, ok := lookup("RECORD_TTL"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n > 1<<31-1 {
			return Options{}, &InvalidEnvironmentError{Var: "RECORD_TTL", Reason: "must be an integer in 0..2^31-1"}
		}
		opts.RecordTTL = uint32(n)
	}

	if v, ok := lookup("HOST_IP_ADDRESS"); ok && v != "" {
		ip := net.ParseIP(v)
		if ip == nil || ip.To4() == nil {
			return Options{}, &InvalidEnvironmentError{Var: "HOST_IP_ADDRESS", Reason: "must be a valid IPv4 address"}
		}
		opts.HostIPAddress = ip
	}

	opts.DockerHost = "unix:///var/run/docker.sock"
	if v, ok := lookup("DOCKER_HOST"); ok && v != "" {
		opts.DockerHost = v
	}

	switch opts.Backend {
	case BackendRoute53:
		opts.Route53.HostedZoneID, _ = lookup("ROUTE53_HOSTED_ZONE_ID")
		if opts.Route53.HostedZoneID == "" {
			return Options{}, &InvalidEnvironmentError{Var: "ROUTE53_HOSTED_ZONE_ID", Reason: "required when BACKEND=route53"}
		}
		opts.Route53.Region, _ = lookup("AWS_REGION")
	case BackendAzureDNS:
		opts.AzureDNS.SubscriptionID, _ = lookup("AZURE_SUBSCRIPTION_ID")
		opts.AzureDNS.ResourceGroup, _ = lookup("AZURE_RESOURCE_GROUP")
		opts.AzureDNS.ZoneName, _ = lookup("AZURE_PRIVATE_ZONE")
		if opts.AzureDNS.SubscriptionID == "" || opts.AzureDNS.ResourceGroup == "" || opts.AzureDNS.ZoneName == "" {
			return Options{}, &InvalidEnvironmentError{Var: "AZURE_SUBSCRIPTION_ID/AZURE_RESOURCE_GROUP/AZURE_PRIVATE_ZONE", Reason: "all required when BACKEND=azuredns"}
		}
	case BackendSQLRow:
		opts.SQLRow.DSN, _ = lookup("SQLROW_DSN")
		if opts.SQLRow.DSN == "" {
			return Options{}, &InvalidEnvironmentError{Var: "SQLROW_DSN", Reason: "required when BACKEND=sqlrow"}
		}
	case BackendLogOnly:
		// No further configuration.
	}

	return opts, nil
}

func boolEnv(lookup func(string) (string, bool), name string, def bool) bool {
	v, ok := lookup(name)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
