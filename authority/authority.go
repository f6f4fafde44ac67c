// Package authority models the authorization authority an access token was
// issued by: the environment (host), the realm (tenant), and the authority
// flavor (AAD, ADFS, B2C). It also provides the alias resolver that maps an
// environment to the set of host names referring to the same cloud, backed
// by an external instance-discovery service.
package authority

import (
	"fmt"
	"net/url"
	"strings"
)

// Authority flavors.
const (
	TypeAAD  = "MSSTS"
	TypeADFS = "ADFS"
	TypeB2C  = "B2C"
)

// Placeholder tenant segments that are corrected to the real tenant id once
// an ID token reveals it.
const (
	TenantCommon        = "common"
	TenantOrganizations = "organizations"
	TenantConsumers     = "consumers"
)

// b2cPathMarker identifies a trust-framework-policy (B2C) authority path.
const b2cPathMarker = "tfp"

// Info is a parsed authority.
type Info struct {
	Host   string
	Tenant string
	Type   string

	// Policy is the B2C policy segment, empty for other flavors.
	Policy string
}

// Parse splits an authority URI such as
// https://login.microsoftonline.com/contoso.onmicrosoft.com into its parts.
// B2C authorities use the https://host/tfp/tenant/policy form; ADFS
// authorities use the fixed "adfs" tenant segment.
func Parse(authorityURI string) (Info, error) {
	u, err := url.Parse(strings.TrimSuffix(authorityURI, "/"))
	if err != nil {
		return Info{}, fmt.Errorf("authority %q is not a valid URI: %w", authorityURI, err)
	}
	if u.Scheme != "https" {
		return Info{}, fmt.Errorf("authority %q must use https", authorityURI)
	}

	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return Info{}, fmt.Errorf("authority %q has no tenant segment", authorityURI)
	}

	info := Info{Host: strings.ToLower(u.Host)}
	switch {
	case strings.EqualFold(segments[0], b2cPathMarker):
		if len(segments) < 3 {
			return Info{}, fmt.Errorf("B2C authority %q needs /tfp/<tenant>/<policy>", authorityURI)
		}
		info.Type = TypeB2C
		info.Tenant = strings.ToLower(segments[1])
		info.Policy = strings.ToLower(segments[2])
	case strings.EqualFold(segments[0], "adfs"):
		info.Type = TypeADFS
		info.Tenant = strings.ToLower(segments[0])
	default:
		info.Type = TypeAAD
		info.Tenant = strings.ToLower(segments[0])
	}
	return info, nil
}

// URI reconstructs the canonical authority URI.
func (i Info) URI() string {
	if i.Type == TypeB2C {
		return fmt.Sprintf("https://%s/%s/%s/%s", i.Host, b2cPathMarker, i.Tenant, i.Policy)
	}
	return fmt.Sprintf("https://%s/%s", i.Host, i.Tenant)
}

// HasPlaceholderTenant reports whether the tenant segment is one of the
// aliases that stand in for "whatever tenant the user turns out to be in".
func (i Info) HasPlaceholderTenant() bool {
	switch i.Tenant {
	case TenantCommon, TenantOrganizations, TenantConsumers:
		return true
	}
	return false
}

// TenantCorrected returns a copy of the authority with the placeholder
// tenant replaced by tenantID. Non-placeholder tenants and empty tenant ids
// are left alone. B2C authorities are never corrected; the policy defines
// the identity boundary there.
func (i Info) TenantCorrected(tenantID string) Info {
	if tenantID == "" || i.Type == TypeB2C || !i.HasPlaceholderTenant() {
		return i
	}
	out := i
	out.Tenant = strings.ToLower(tenantID)
	return out
}
