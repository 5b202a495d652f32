// Package meta normalizes transaction metadata into the ledger-entry
// mutation records the order book replica consumes. Metadata arrives as
// raw JSON from the transaction stream; absence or malformed shape is a
// normal condition for some transaction types and yields an empty
// result rather than an error.
package meta

import (
	"encoding/json"

	"github.com/xrpmon/bookd/internal/amount"
)

// NodeType tags a ledger-entry mutation record.
type NodeType string

const (
	NodeCreated  NodeType = "CreatedNode"
	NodeModified NodeType = "ModifiedNode"
	NodeDeleted  NodeType = "DeletedNode"
)

var nodeTypes = []NodeType{NodeCreated, NodeModified, NodeDeleted}

// Node is one normalized ledger-entry mutation. Fields is the merged
// view with final fields winning over new fields winning over previous
// fields.
type Node struct {
	NodeType    NodeType
	EntryType   string
	LedgerIndex string

	Fields      map[string]json.RawMessage
	FieldsPrev  map[string]json.RawMessage
	FieldsNew   map[string]json.RawMessage
	FieldsFinal map[string]json.RawMessage

	// BookKey routes Offer mutations to the owning book; it is the
	// canonical "gets:pays" currency pair string.
	BookKey string
}

// Filter selects a subset of mutation records. Zero-valued members
// match everything.
type Filter struct {
	NodeType  NodeType
	EntryType string
	BookKey   string
}

type rawNode struct {
	LedgerEntryType string                     `json:"LedgerEntryType"`
	LedgerIndex     string                     `json:"LedgerIndex"`
	PreviousFields  map[string]json.RawMessage `json:"PreviousFields"`
	NewFields       map[string]json.RawMessage `json:"NewFields"`
	FinalFields     map[string]json.RawMessage `json:"FinalFields"`
}

// AffectedNodes extracts the mutation records from raw transaction
// metadata, optionally filtered. Missing or malformed metadata returns
// an empty slice.
func AffectedNodes(metadata json.RawMessage, filter *Filter) []Node {
	if len(metadata) == 0 {
		return nil
	}
	var meta struct {
		AffectedNodes []map[string]json.RawMessage `json:"AffectedNodes"`
	}
	if err := json.Unmarshal(metadata, &meta); err != nil || meta.AffectedNodes == nil {
		return nil
	}

	var nodes []Node
	for _, wrapper := range meta.AffectedNodes {
		node, ok := normalize(wrapper)
		if !ok {
			continue
		}
		if filter != nil && !filter.matches(node) {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func normalize(wrapper map[string]json.RawMessage) (Node, bool) {
	for _, nt := range nodeTypes {
		body, ok := wrapper[string(nt)]
		if !ok {
			continue
		}
		var raw rawNode
		if err := json.Unmarshal(body, &raw); err != nil {
			return Node{}, false
		}

		merged := make(map[string]json.RawMessage, len(raw.PreviousFields)+len(raw.NewFields)+len(raw.FinalFields))
		for k, v := range raw.PreviousFields {
			merged[k] = v
		}
		for k, v := range raw.NewFields {
			merged[k] = v
		}
		for k, v := range raw.FinalFields {
			merged[k] = v
		}

		node := Node{
			NodeType:    nt,
			EntryType:   raw.LedgerEntryType,
			LedgerIndex: raw.LedgerIndex,
			Fields:      merged,
			FieldsPrev:  orEmpty(raw.PreviousFields),
			FieldsNew:   orEmpty(raw.NewFields),
			FieldsFinal: orEmpty(raw.FinalFields),
		}

		if node.EntryType == "Offer" {
			gets, errGets := amount.ParseAmount(merged["TakerGets"])
			pays, errPays := amount.ParseAmount(merged["TakerPays"])
			if errGets == nil && errPays == nil {
				node.BookKey = gets.CurrencyString() + ":" + pays.CurrencyString()
			}
		}
		return node, true
	}
	return Node{}, false
}

func orEmpty(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return map[string]json.RawMessage{}
	}
	return m
}

func (f *Filter) matches(n Node) bool {
	if f.NodeType != "" && f.NodeType != n.NodeType {
		return false
	}
	if f.EntryType != "" && f.EntryType != n.EntryType {
		return false
	}
	if f.BookKey != "" && f.BookKey != n.BookKey {
		return false
	}
	return true
}

// HasField reports whether the merged field view carries a field.
func (n *Node) HasField(name string) bool {
	_, ok := n.Fields[name]
	return ok
}

// HasPrev reports whether the previous field set carries a field.
func (n *Node) HasPrev(name string) bool {
	_, ok := n.FieldsPrev[name]
	return ok
}

// HasFinal reports whether the final field set carries a field.
func (n *Node) HasFinal(name string) bool {
	_, ok := n.FieldsFinal[name]
	return ok
}

// Text decodes a string-typed field from the merged view.
func (n *Node) Text(name string) string {
	var s string
	if raw, ok := n.Fields[name]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// Amount decodes an amount-typed field from the merged view.
func (n *Node) Amount(name string) (amount.Amount, error) {
	raw, ok := n.Fields[name]
	if !ok {
		return amount.Amount{}, amount.ErrInvalidAmount
	}
	return amount.ParseAmount(raw)
}

// FinalAmount decodes an amount-typed field from the final field set.
func (n *Node) FinalAmount(name string) (amount.Amount, error) {
	raw, ok := n.FieldsFinal[name]
	if !ok {
		return amount.Amount{}, amount.ErrInvalidAmount
	}
	return amount.ParseAmount(raw)
}

// PrevAmount decodes an amount-typed field from the previous field set.
func (n *Node) PrevAmount(name string) (amount.Amount, error) {
	raw, ok := n.FieldsPrev[name]
	if !ok {
		return amount.Amount{}, amount.ErrInvalidAmount
	}
	return amount.ParseAmount(raw)
}

// LimitIssuer extracts the issuer of a trust-line limit field
// (HighLimit or LowLimit) from the merged view.
func (n *Node) LimitIssuer(name string) string {
	raw, ok := n.Fields[name]
	if !ok {
		return ""
	}
	var limit struct {
		Issuer string `json:"issuer"`
	}
	if err := json.Unmarshal(raw, &limit); err != nil {
		return ""
	}
	return limit.Issuer
}
