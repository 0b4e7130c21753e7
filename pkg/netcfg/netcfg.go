// Package netcfg builds the controller-side network configuration of a
// switch and pushes it to the controller's REST endpoint.
package netcfg

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jrepp/nodesup/pkg/node"
)

// Port defaults for interfaces declared on a switch.
const (
	DefaultPortType  = "copper"
	DefaultPortSpeed = 10000
	LocTypeGeo       = "geo"
)

// Basic holds the device's basic configuration.
type Basic struct {
	ManagementAddress string   `json:"managementAddress"`
	Driver            string   `json:"driver,omitempty"`
	Pipeconf          string   `json:"pipeconf,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	LocType           string   `json:"locType,omitempty"`
}

// Port describes one data-plane port of a device.
type Port struct {
	Number  int    `json:"number"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Removed bool   `json:"removed"`
	Type    string `json:"type"`
	Speed   int    `json:"speed"`
}

// Device is the configuration of one device.
type Device struct {
	Basic Basic           `json:"basic"`
	Ports map[string]Port `json:"ports,omitempty"`
}

// Document is the body accepted by the controller's network configuration
// endpoint.
type Document struct {
	Devices map[string]Device `json:"devices"`
}

// NewDocument wraps a single device keyed by deviceKey.
func NewDocument(deviceKey string, dev Device) *Document {
	return &Document{Devices: map[string]Device{deviceKey: dev}}
}

// Marshal encodes the document with two-space indentation.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode netcfg: %w", err)
	}
	return append(data, '\n'), nil
}

// ManagementAddress is the URI the controller dials to manage a switch.
func ManagementAddress(ip string, grpcPort, deviceID int) string {
	return fmt.Sprintf("grpc://%s:%d?device_id=%d", ip, grpcPort, deviceID)
}

// DefaultDriver returns the controller driver for a switch target.
func DefaultDriver(t node.Target) string {
	switch t {
	case node.TargetStratum:
		return "stratum-bmv2"
	case node.TargetBMv2:
		return "bmv2"
	default:
		return ""
	}
}

// NewDevice builds the configuration of a switch reachable at ip:grpcPort.
func NewDevice(spec node.Spec, ip string, grpcPort int) (Device, error) {
	if spec.Kind != node.KindSwitch {
		return Device{}, fmt.Errorf("node %s: netcfg is only built for switches, got %s", spec.Name, spec.Kind)
	}
	if grpcPort <= 0 {
		return Device{}, fmt.Errorf("node %s: grpc port is not set", spec.Name)
	}

	driver := spec.Driver
	if driver == "" {
		driver = DefaultDriver(spec.Target)
	}

	dev := Device{
		Basic: Basic{
			ManagementAddress: ManagementAddress(ip, grpcPort, spec.ID),
			Driver:            driver,
			Pipeconf:          spec.Pipeconf,
		},
	}
	if spec.Latitude != nil && spec.Longitude != nil {
		dev.Basic.Latitude = spec.Latitude
		dev.Basic.Longitude = spec.Longitude
		dev.Basic.LocType = LocTypeGeo
	}

	if len(spec.Interfaces) > 0 {
		dev.Ports = make(map[string]Port, len(spec.Interfaces))
		for _, intf := range spec.SortedInterfaces() {
			dev.Ports[strconv.Itoa(intf.Port)] = Port{
				Number:  intf.Port,
				Name:    intf.Name,
				Enabled: true,
				Type:    DefaultPortType,
				Speed:   DefaultPortSpeed,
			}
		}
	}
	return dev, nil
}
