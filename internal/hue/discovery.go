package hue

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
)

// DefaultBridgeName labels discovered bridges whose name is unknown.
const DefaultBridgeName = "Philips Hue Bridge"

// DiscoveredBridge is a bridge found on the local network.
type DiscoveredBridge struct {
	Address string `json:"address"`
	ID      string `json:"id"`
	Name    string `json:"name"`
}

// Discover asks the vendor lookup service for bridges on this network.
func Discover(ctx context.Context) ([]DiscoveredBridge, error) {
	type result struct {
		bridges []huego.Bridge
		err     error
	}
	done := make(chan result, 1)
	go func() {
		bridges, err := huego.DiscoverAll()
		done <- result{bridges, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to discover bridges: %w", res.err)
	}

	found := make([]DiscoveredBridge, 0, len(res.bridges))
	for _, b := range res.bridges {
		found = append(found, DiscoveredBridge{
			Address: b.Host,
			ID:      b.ID,
			Name:    DefaultBridgeName,
		})
	}
	log.Debug().Int("count", len(found)).Msg("Bridge discovery finished")
	return found, nil
}

type bridgeDescription struct {
	Device struct {
		FriendlyName string `xml:"friendlyName"`
		ModelName    string `xml:"modelName"`
		SerialNumber string `xml:"serialNumber"`
	} `xml:"device"`
}

// CheckBridgeAvailability reads the UPnP description of the host and
// reports whether it is a Hue bridge, with its friendly name.
func CheckBridgeAvailability(ctx context.Context, transport Transport, address string) (DiscoveredBridge, bool) {
	body, err := transport.Get(ctx, "http://"+address+"/description.xml")
	if err != nil {
		log.Debug().Err(err).Str("address", address).Msg("Bridge description unavailable")
		return DiscoveredBridge{}, false
	}

	var desc bridgeDescription
	if err := xml.Unmarshal([]byte(body), &desc); err != nil {
		log.Debug().Err(err).Str("address", address).Msg("Bridge description unreadable")
		return DiscoveredBridge{}, false
	}
	if !strings.Contains(strings.ToLower(desc.Device.ModelName), "philips hue bridge") {
		return DiscoveredBridge{}, false
	}

	name := desc.Device.FriendlyName
	if name == "" {
		name = DefaultBridgeName
	}
	return DiscoveredBridge{Address: address, ID: desc.Device.SerialNumber, Name: name}, true
}
