// Package destination maps a destination mask to the ordered list of process roles
// a stream must be delivered to.
package destination

import (
	"fmt"
	"strings"
)

// Mask is a set of destination flags.
type Mask uint32

const (
	DataServer       Mask = 0x01
	DataServerRoot   Mask = 0x02
	RenderServer     Mask = 0x04
	RenderServerRoot Mask = 0x08
	Client           Mask = 0x10

	Servers                       = DataServer | RenderServer
	ClientAndServers              = Client | DataServer | RenderServer
	ClientAndDataServer           = Client | DataServer
	ClientAndDataServerRoot       = Client | DataServerRoot
	ClientAndRenderServer         = Client | RenderServer
	ClientAndRenderServerRoot     = Client | RenderServerRoot
	RenderServerAndDataServer     = RenderServer | DataServer
	RenderServerAndDataServerRoot = RenderServerRoot | DataServerRoot

	all = DataServer | DataServerRoot | RenderServer | RenderServerRoot | Client
)

// Destination describes one process role a stream can be sent to.
type Destination struct {
	Flag Mask
	Name string
}

func (d Destination) String() string {
	return d.Name
}

// Priority is the order in which destinations receive a stream. Later destinations may
// depend on effects of earlier ones (client state referring to objects a server created),
// so this order holds regardless of the flags' numeric values.
//
// A group flag and its root flag are distinct entries: a mask holding both delivers to
// the group and then again to its root.
var Priority = []Destination{
	{Flag: DataServer, Name: "DataServer"},
	{Flag: RenderServer, Name: "RenderServer"},
	{Flag: DataServerRoot, Name: "DataServerRoot"},
	{Flag: RenderServerRoot, Name: "RenderServerRoot"},
	{Flag: Client, Name: "Client"},
}

// Resolve returns the destinations whose flag is set in m, in Priority order.
// Unknown bits are ignored; a zero mask resolves to nothing.
func Resolve(m Mask) []Destination {
	var out []Destination
	for _, d := range Priority {
		if m&d.Flag != 0 {
			out = append(out, d)
		}
	}
	return out
}

// Has reports whether every flag of f is set in m.
func (m Mask) Has(f Mask) bool {
	return f != 0 && m&f == f
}

// String lists the set flags in Priority order joined by "|".
func (m Mask) String() string {
	dests := Resolve(m)
	if len(dests) == 0 {
		return "None"
	}
	names := make([]string, len(dests))
	for i, d := range dests {
		names[i] = d.Name
	}
	return strings.Join(names, "|")
}

var byName = map[string]Mask{
	"none":                          0,
	"dataserver":                    DataServer,
	"dataserverroot":                DataServerRoot,
	"renderserver":                  RenderServer,
	"renderserverroot":              RenderServerRoot,
	"client":                        Client,
	"servers":                       Servers,
	"clientandservers":              ClientAndServers,
	"clientanddataserver":           ClientAndDataServer,
	"clientanddataserverroot":       ClientAndDataServerRoot,
	"clientandrenderserver":         ClientAndRenderServer,
	"clientandrenderserverroot":     ClientAndRenderServerRoot,
	"renderserveranddataserver":     RenderServerAndDataServer,
	"renderserveranddataserverroot": RenderServerAndDataServerRoot,
}

// ParseMask parses names such as "DataServer|Client" or "ClientAndServers".
// Names are case-insensitive; '-' and '_' are ignored.
func ParseMask(s string) (Mask, error) {
	var m Mask
	for _, part := range strings.Split(s, "|") {
		key := strings.ToLower(strings.TrimSpace(part))
		key = strings.NewReplacer("-", "", "_", "").Replace(key)
		flag, ok := byName[key]
		if !ok {
			return 0, fmt.Errorf("unknown destination %q", strings.TrimSpace(part))
		}
		m |= flag
	}
	return m, nil
}

// Topology rewrites a requested mask into the mask this process can actually serve.
type Topology func(Mask) Mask

// Identity sends to exactly the requested destinations.
func Identity(m Mask) Mask {
	return m & all
}

// SingleProcess runs every role in this process: any non-empty request is executed
// on the local client only.
func SingleProcess(m Mask) Mask {
	if m&all != 0 {
		return Client
	}
	return 0
}
