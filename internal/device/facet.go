package device

// Facet is one configuration sub-resource of a router's REST API. The set is
// closed so the client cannot be pointed at arbitrary paths.
type Facet string

const (
	FacetInterfaces      Facet = "interfaces"
	FacetIPAddresses     Facet = "ip-addresses"
	FacetFirewallRules   Facet = "firewall-rules"
	FacetHotspotProfiles Facet = "hotspot-profiles"
	FacetSystemInfo      Facet = "system-info"
)

var facetPaths = map[Facet]string{
	FacetInterfaces:      "/rest/interface",
	FacetIPAddresses:     "/rest/ip/address",
	FacetFirewallRules:   "/rest/ip/firewall/filter",
	FacetHotspotProfiles: "/rest/ip/hotspot/user/profile",
	FacetSystemInfo:      "/rest/system/resource",
}

// Facets returns every supported facet in a stable order.
func Facets() []Facet {
	return []Facet{
		FacetInterfaces,
		FacetIPAddresses,
		FacetFirewallRules,
		FacetHotspotProfiles,
		FacetSystemInfo,
	}
}

func (f Facet) Path() (string, bool) {
	p, ok := facetPaths[f]
	return p, ok
}

// IsList reports whether the facet returns a JSON array. System info is a
// single object.
func (f Facet) IsList() bool {
	return f != FacetSystemInfo
}
