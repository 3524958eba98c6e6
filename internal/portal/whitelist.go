package portal

import (
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vendors.yaml
var vendorsYAML []byte

type vendorCatalog struct {
	Vendors []struct {
		Name    string   `yaml:"name"`
		Domains []string `yaml:"domains"`
	} `yaml:"vendors"`
}

// WhitelistInput describes one router's environment.
type WhitelistInput struct {
	PortalURL  string
	DNSServers []string
	NTPServers []string
	UAMIP      string
}

// Whitelist is what an unauthenticated client must be allowed to reach:
// the portal itself, DNS and NTP, the hotspot gateway, and the OS vendors'
// captive-detection probes. Commands install the set on the edge firewall.
type Whitelist struct {
	Domains  []string `json:"domains"`
	IPs      []string `json:"ips"`
	Commands []string `json:"commands"`
}

const whitelistSet = "spotfi_whitelist"

// BuildWhitelist derives the pre-auth allow-list for a router.
func BuildWhitelist(in WhitelistInput) (Whitelist, error) {
	var catalog vendorCatalog
	if err := yaml.Unmarshal(vendorsYAML, &catalog); err != nil {
		return Whitelist{}, fmt.Errorf("portal: vendor catalog: %w", err)
	}

	domainSet := map[string]struct{}{}
	for _, v := range catalog.Vendors {
		for _, d := range v.Domains {
			domainSet[strings.ToLower(d)] = struct{}{}
		}
	}

	if in.PortalURL != "" {
		u, err := url.Parse(in.PortalURL)
		if err != nil || u.Hostname() == "" {
			return Whitelist{}, fmt.Errorf("portal: bad portal url %q", in.PortalURL)
		}
		domainSet[strings.ToLower(u.Hostname())] = struct{}{}
	}

	ipSet := map[string]struct{}{}
	for _, ip := range in.DNSServers {
		if ip != "" {
			ipSet[ip] = struct{}{}
		}
	}
	for _, ip := range in.NTPServers {
		if ip != "" {
			ipSet[ip] = struct{}{}
		}
	}
	if in.UAMIP != "" {
		ipSet[in.UAMIP] = struct{}{}
	}

	wl := Whitelist{
		Domains: sortedKeys(domainSet),
		IPs:     sortedKeys(ipSet),
	}

	wl.Commands = append(wl.Commands,
		fmt.Sprintf("ipset create %s hash:ip -exist", whitelistSet))
	for _, ip := range wl.IPs {
		wl.Commands = append(wl.Commands,
			fmt.Sprintf("ipset add %s %s -exist", whitelistSet, ip))
	}
	// Domains resolve at the edge: dnsmasq feeds every answer into the set.
	for _, d := range wl.Domains {
		wl.Commands = append(wl.Commands,
			fmt.Sprintf("ipset=/%s/%s", d, whitelistSet))
	}
	return wl, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
