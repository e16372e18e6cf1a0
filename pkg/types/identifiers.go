package types

import (
	"encoding/json"
)

// CustomerInfo is the tenant profile some portals return alongside the
// account identifiers.
type CustomerInfo struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	CustomerNumber string `json:"customerNumber"`
	TenantNumber   string `json:"tenantNumber"`
	PropertyNumber string `json:"propertyNumber"`
	Floor          string `json:"floor"`
	Position       string `json:"position"`
	Address        string `json:"address"`
	MoveInDate     string `json:"moveInDate"`
}

// ResourceIdentifiers are the opaque ids needed to address a customer's data.
// They are only valid for the session generation that produced them.
type ResourceIdentifiers struct {
	// Primary is the metering point id (digimeto) or user number (minol).
	Primary string
	// Secondary is the line id (digimeto) or property number (minol).
	Secondary string
	Customer  *CustomerInfo

	SessionGeneration uint64
}

// NodeKind tags a DirectoryNode.
type NodeKind int

const (
	NodeKindOther NodeKind = iota
	NodeKindContainer
	NodeKindMeteringPoint
	NodeKindLine
)

func (k NodeKind) String() string {
	switch k {
	case NodeKindContainer:
		return "container"
	case NodeKindMeteringPoint:
		return "mp"
	case NodeKindLine:
		return "line"
	default:
		return "other"
	}
}

// DirectoryNode is one node of the portal's metering point directory.
type DirectoryNode struct {
	Kind     NodeKind
	ID       string
	Name     string
	Children []DirectoryNode
}

type rawDirectoryNode struct {
	Type     string            `json:"type"`
	ID       json.RawMessage   `json:"id"`
	Text     string            `json:"text"`
	Children []json.RawMessage `json:"childs"`
}

// UnmarshalJSON decodes the portal's {"type","id","childs"} shape. Children
// that are not objects are kept as NodeKindOther leaves so a partially odd
// tree can still be searched.
func (n *DirectoryNode) UnmarshalJSON(b []byte) error {
	var raw rawDirectoryNode
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case "mp":
		n.Kind = NodeKindMeteringPoint
	case "line":
		n.Kind = NodeKindLine
	default:
		n.Kind = NodeKindOther
		if len(raw.Children) > 0 {
			n.Kind = NodeKindContainer
		}
	}
	n.ID = idString(raw.ID)
	n.Name = raw.Text
	n.Children = nil
	for _, c := range raw.Children {
		var child DirectoryNode
		if err := json.Unmarshal(c, &child); err != nil {
			child = DirectoryNode{Kind: NodeKindOther}
		}
		n.Children = append(n.Children, child)
	}
	return nil
}

// ids show up as both strings and numbers
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}
