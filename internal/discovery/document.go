package discovery

import (
	"net"
	"strconv"
)

// Document is the JSON body returned by the discovery API.
type Document struct {
	Groups []Group `json:"GGGroups"`
}

type Group struct {
	GroupID string   `json:"GGGroupId"`
	Cores   []Core   `json:"Cores"`
	CAs     []string `json:"CAs"`
}

type Core struct {
	ThingArn     string         `json:"thingArn"`
	Connectivity []Connectivity `json:"Connectivity"`
}

type Connectivity struct {
	ID          string `json:"Id"`
	HostAddress string `json:"HostAddress"`
	PortNumber  int    `json:"PortNumber"`
	Metadata    string `json:"Metadata"`
}

// Endpoint is one candidate address for the secure session.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Result is what a successful discovery hands to the session connector.
type Result struct {
	GroupID      string
	CoreThingArn string
	// TrustAnchor is the PEM encoded group CA.
	TrustAnchor []byte
	// TrustAnchorPath is where TrustAnchor was written.
	TrustAnchorPath string
	Endpoints       []Endpoint
}
