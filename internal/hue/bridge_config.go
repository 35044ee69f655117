package hue

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
)

// SoftwareUpdateState is the bridge's firmware update state.
type SoftwareUpdateState int

const (
	UpdateStateNoUpdate SoftwareUpdateState = iota
	UpdateStateDownloading
	UpdateStateAvailableToApply
	UpdateStateApplying
)

func (s SoftwareUpdateState) String() string {
	switch s {
	case UpdateStateNoUpdate:
		return "no_update"
	case UpdateStateDownloading:
		return "downloading"
	case UpdateStateAvailableToApply:
		return "available_to_apply"
	case UpdateStateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// SoftwareUpdateDeviceTypes lists what an available update covers.
type SoftwareUpdateDeviceTypes struct {
	Bridge  bool     `json:"bridge"`
	Lights  []string `json:"lights"`
	Sensors []string `json:"sensors"`
}

// SoftwareUpdate is the swupdate section of the bridge config.
type SoftwareUpdate struct {
	UpdateState    SoftwareUpdateState       `json:"updatestate"`
	CheckForUpdate bool                      `json:"checkforupdate"`
	DeviceTypes    SoftwareUpdateDeviceTypes `json:"devicetypes"`
	URL            string                    `json:"url"`
	Text           string                    `json:"text"`
	Notify         bool                      `json:"notify"`
}

// PortalState is the bridge's connection to the vendor portal.
type PortalState struct {
	SignedOn      bool   `json:"signedon"`
	Incoming      bool   `json:"incoming"`
	Outgoing      bool   `json:"outgoing"`
	Communication string `json:"communication"`
}

// WhitelistEntry is one authorized username.
type WhitelistEntry struct {
	LastUseDate string `json:"last use date"`
	CreateDate  string `json:"create date"`
	Name        string `json:"name"`
}

// BridgeConfiguration is the singleton config resource of a session.
type BridgeConfiguration struct {
	Name             string                     `json:"name"`
	SoftwareUpdate   SoftwareUpdate             `json:"swupdate"`
	Whitelist        map[string]*WhitelistEntry `json:"whitelist"`
	APIVersion       string                     `json:"apiversion"`
	SoftwareVersion  string                     `json:"swversion"`
	ProxyAddress     string                     `json:"proxyaddress"`
	ProxyPort        int                        `json:"proxyport"`
	LinkButton       bool                       `json:"linkbutton"`
	IPAddress        string                     `json:"ipaddress"`
	MAC              string                     `json:"mac"`
	Netmask          string                     `json:"netmask"`
	Gateway          string                     `json:"gateway"`
	DHCP             bool                       `json:"dhcp"`
	PortalServices   bool                       `json:"portalservices"`
	PortalConnection string                     `json:"portalconnection"`
	PortalState      PortalState                `json:"portalstate"`
	UTC              string                     `json:"UTC"`
	LocalTime        string                     `json:"localtime"`
	TimeZone         string                     `json:"timezone"`
	ZigbeeChannel    int                        `json:"zigbeechannel"`
	ModelID          string                     `json:"modelid"`
	BridgeID         string                     `json:"bridgeid"`
	FactoryNew       bool                       `json:"factorynew"`
	ReplacesBridgeID string                     `json:"replacesbridgeid"`
}

var deviceTypesFields = newFieldTable(
	valueField[SoftwareUpdateDeviceTypes]("bridge", func(d *SoftwareUpdateDeviceTypes) *bool { return &d.Bridge }),
	listField[SoftwareUpdateDeviceTypes]("lights", func(d *SoftwareUpdateDeviceTypes) *[]string { return &d.Lights }),
	listField[SoftwareUpdateDeviceTypes]("sensors", func(d *SoftwareUpdateDeviceTypes) *[]string { return &d.Sensors }),
)

var softwareUpdateFields = newFieldTable(
	valueField[SoftwareUpdate]("updatestate", func(s *SoftwareUpdate) *SoftwareUpdateState { return &s.UpdateState }),
	valueField[SoftwareUpdate]("checkforupdate", func(s *SoftwareUpdate) *bool { return &s.CheckForUpdate }),
	nestedField[SoftwareUpdate]("devicetypes", func(s *SoftwareUpdate) *SoftwareUpdateDeviceTypes { return &s.DeviceTypes }, deviceTypesFields),
	valueField[SoftwareUpdate]("url", func(s *SoftwareUpdate) *string { return &s.URL }),
	valueField[SoftwareUpdate]("text", func(s *SoftwareUpdate) *string { return &s.Text }),
	valueField[SoftwareUpdate]("notify", func(s *SoftwareUpdate) *bool { return &s.Notify }),
)

var portalStateFields = newFieldTable(
	valueField[PortalState]("signedon", func(p *PortalState) *bool { return &p.SignedOn }),
	valueField[PortalState]("incoming", func(p *PortalState) *bool { return &p.Incoming }),
	valueField[PortalState]("outgoing", func(p *PortalState) *bool { return &p.Outgoing }),
	valueField[PortalState]("communication", func(p *PortalState) *string { return &p.Communication }),
)

var whitelistEntryFields = newFieldTable(
	valueField[WhitelistEntry]("last use date", func(w *WhitelistEntry) *string { return &w.LastUseDate }),
	valueField[WhitelistEntry]("create date", func(w *WhitelistEntry) *string { return &w.CreateDate }),
	valueField[WhitelistEntry]("name", func(w *WhitelistEntry) *string { return &w.Name }),
)

var bridgeConfigFields = newFieldTable(
	valueField[BridgeConfiguration]("name", func(c *BridgeConfiguration) *string { return &c.Name }),
	nestedField[BridgeConfiguration]("swupdate", func(c *BridgeConfiguration) *SoftwareUpdate { return &c.SoftwareUpdate }, softwareUpdateFields),
	whitelistField(),
	valueField[BridgeConfiguration]("apiversion", func(c *BridgeConfiguration) *string { return &c.APIVersion }),
	valueField[BridgeConfiguration]("swversion", func(c *BridgeConfiguration) *string { return &c.SoftwareVersion }),
	valueField[BridgeConfiguration]("proxyaddress", func(c *BridgeConfiguration) *string { return &c.ProxyAddress }),
	valueField[BridgeConfiguration]("proxyport", func(c *BridgeConfiguration) *int { return &c.ProxyPort }),
	valueField[BridgeConfiguration]("linkbutton", func(c *BridgeConfiguration) *bool { return &c.LinkButton }),
	valueField[BridgeConfiguration]("ipaddress", func(c *BridgeConfiguration) *string { return &c.IPAddress }),
	valueField[BridgeConfiguration]("mac", func(c *BridgeConfiguration) *string { return &c.MAC }),
	valueField[BridgeConfiguration]("netmask", func(c *BridgeConfiguration) *string { return &c.Netmask }),
	valueField[BridgeConfiguration]("gateway", func(c *BridgeConfiguration) *string { return &c.Gateway }),
	valueField[BridgeConfiguration]("dhcp", func(c *BridgeConfiguration) *bool { return &c.DHCP }),
	valueField[BridgeConfiguration]("portalservices", func(c *BridgeConfiguration) *bool { return &c.PortalServices }),
	valueField[BridgeConfiguration]("portalconnection", func(c *BridgeConfiguration) *string { return &c.PortalConnection }),
	nestedField[BridgeConfiguration]("portalstate", func(c *BridgeConfiguration) *PortalState { return &c.PortalState }, portalStateFields),
	valueField[BridgeConfiguration]("UTC", func(c *BridgeConfiguration) *string { return &c.UTC }),
	valueField[BridgeConfiguration]("localtime", func(c *BridgeConfiguration) *string { return &c.LocalTime }),
	valueField[BridgeConfiguration]("timezone", func(c *BridgeConfiguration) *string { return &c.TimeZone }),
	valueField[BridgeConfiguration]("zigbeechannel", func(c *BridgeConfiguration) *int { return &c.ZigbeeChannel }),
	valueField[BridgeConfiguration]("modelid", func(c *BridgeConfiguration) *string { return &c.ModelID }),
	valueField[BridgeConfiguration]("bridgeid", func(c *BridgeConfiguration) *string { return &c.BridgeID }),
	valueField[BridgeConfiguration]("factorynew", func(c *BridgeConfiguration) *bool { return &c.FactoryNew }),
	valueField[BridgeConfiguration]("replacesbridgeid", func(c *BridgeConfiguration) *string { return &c.ReplacesBridgeID }),
)

// whitelistField replaces the whole map when the key sets differ and merges
// entry by entry otherwise, so entry pointers survive ordinary refreshes.
func whitelistField() fieldDef[BridgeConfiguration] {
	return fieldDef[BridgeConfiguration]{
		name: "whitelist",
		merge: func(dst, src *BridgeConfiguration) bool {
			if !sameKeys(dst.Whitelist, src.Whitelist) {
				dst.Whitelist = maps.Clone(src.Whitelist)
				return true
			}
			changed := false
			for key, entry := range src.Whitelist {
				current := dst.Whitelist[key]
				if current == nil || entry == nil {
					if current != entry {
						dst.Whitelist[key] = entry
						changed = true
					}
					continue
				}
				if whitelistEntryFields.merge(current, entry) {
					changed = true
				}
			}
			return changed
		},
		apply: func(dst *BridgeConfiguration, raw json.RawMessage) error {
			var fresh map[string]*WhitelistEntry
			if err := json.Unmarshal(raw, &fresh); err != nil {
				return err
			}
			dst.Whitelist = fresh
			return nil
		},
	}
}

func sameKeys[V any](a, b map[string]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// UpdateFrom merges a freshly fetched config into c.
func (c *BridgeConfiguration) UpdateFrom(src *BridgeConfiguration) bool {
	return bridgeConfigFields.merge(c, src)
}

// IsWhitelisted reports whether username is an authorized credential.
func (c *BridgeConfiguration) IsWhitelisted(username string) bool {
	_, ok := c.Whitelist[username]
	return ok
}

// APIVersionAtLeast compares the dotted apiversion against major.minor.
func (c *BridgeConfiguration) APIVersionAtLeast(major, minor int) bool {
	parts := strings.Split(c.APIVersion, ".")
	if len(parts) < 2 {
		return false
	}
	gotMajor, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	gotMinor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	if gotMajor != major {
		return gotMajor > major
	}
	return gotMinor >= minor
}
