package book

import (
	"encoding/json"
	"strings"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/meta"
)

// Offer is one resting offer of the book, enriched with the funding
// state derived from its owner's spendable balance.
type Offer struct {
	Account       string
	Sequence      uint32
	Flags         uint32
	BookDirectory string
	// ID is the ledger index of the offer entry, stable across
	// modifications.
	ID         string
	Expiration *uint32

	TakerGets amount.Amount
	TakerPays amount.Amount

	// Quality is TakerPays/TakerGets over raw values. Lower is a
	// better price for the taker.
	Quality amount.Value
	// QualityHex is the 16-hex-digit sortable encoding of Quality,
	// taken from the book directory when the entry carries one.
	QualityHex string

	// OwnerFunds is the owner's unadjusted spendable balance as
	// disclosed by the ledger, "Infinity" for issuers trading their
	// own currency. Empty until known.
	OwnerFunds string

	TakerGetsFunded amount.Value
	TakerPaysFunded amount.Value
	IsFullyFunded   bool

	// Autobridged marks synthetic offers composed from two legs.
	Autobridged bool

	// initTakerGetsFunded preserves the clamped funding while the
	// bridge calculator temporarily lifts same-owner clamps.
	initTakerGetsFunded amount.Value
}

// qualityHexFromDirectory extracts the sortable quality key from a
// book directory index. The low 64 bits of the directory are the
// encoded quality.
func qualityHexFromDirectory(dir string) string {
	if len(dir) < 16 {
		return ""
	}
	return strings.ToUpper(dir[len(dir)-16:])
}

type rawOffer struct {
	Account         string          `json:"Account"`
	BookDirectory   string          `json:"BookDirectory"`
	Flags           uint32          `json:"Flags"`
	Sequence        uint32          `json:"Sequence"`
	Expiration      *uint32         `json:"Expiration,omitempty"`
	TakerGets       json.RawMessage `json:"TakerGets"`
	TakerPays       json.RawMessage `json:"TakerPays"`
	Index           string          `json:"index"`
	OwnerFunds      string          `json:"owner_funds,omitempty"`
	Quality         string          `json:"quality,omitempty"`
	TakerGetsFunded json.RawMessage `json:"taker_gets_funded,omitempty"`
	TakerPaysFunded json.RawMessage `json:"taker_pays_funded,omitempty"`
	IsFullyFunded   bool            `json:"is_fully_funded,omitempty"`
}

// ParseOffer builds an Offer from one book_offers entry.
func ParseOffer(raw json.RawMessage) (*Offer, error) {
	var r rawOffer
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	gets, err := amount.ParseAmount(r.TakerGets)
	if err != nil {
		return nil, err
	}
	pays, err := amount.ParseAmount(r.TakerPays)
	if err != nil {
		return nil, err
	}

	o := &Offer{
		Account:       r.Account,
		Sequence:      r.Sequence,
		Flags:         r.Flags,
		BookDirectory: r.BookDirectory,
		ID:            r.Index,
		Expiration:    r.Expiration,
		TakerGets:     gets,
		TakerPays:     pays,
		OwnerFunds:    r.OwnerFunds,
	}
	if err := o.deriveQuality(); err != nil {
		return nil, err
	}
	return o, nil
}

// offerFromNode builds an Offer from a created ledger-entry mutation.
func offerFromNode(n meta.Node) (*Offer, error) {
	gets, err := n.Amount("TakerGets")
	if err != nil {
		return nil, err
	}
	pays, err := n.Amount("TakerPays")
	if err != nil {
		return nil, err
	}

	o := &Offer{
		Account:       n.Text("Account"),
		Sequence:      nodeUint32(n, "Sequence"),
		Flags:         nodeUint32(n, "Flags"),
		BookDirectory: n.Text("BookDirectory"),
		ID:            n.LedgerIndex,
		TakerGets:     gets,
		TakerPays:     pays,
	}
	if exp, ok := nodeOptUint32(n, "Expiration"); ok {
		o.Expiration = &exp
	}
	if err := o.deriveQuality(); err != nil {
		return nil, err
	}
	return o, nil
}

// deriveQuality computes Quality and QualityHex from the current
// amounts. The directory key wins when present so replica ordering
// matches ledger ordering bit for bit.
func (o *Offer) deriveQuality() error {
	q, err := o.TakerPays.Value.Div(o.TakerGets.Value)
	if err != nil {
		return err
	}
	o.Quality = q
	if hex := qualityHexFromDirectory(o.BookDirectory); hex != "" {
		o.QualityHex = hex
		return nil
	}
	hex, err := amount.EncodeQuality(q)
	if err != nil {
		return err
	}
	o.QualityHex = hex
	return nil
}

// setFunded applies the owner's remaining spendable balance to this
// offer. funds may be infinite for issuer-owned offers.
func (o *Offer) setFunded(funds amount.Value) {
	switch {
	case funds.Compare(o.TakerGets.Value) >= 0:
		o.IsFullyFunded = true
		o.TakerGetsFunded = o.TakerGets.Value
		o.TakerPaysFunded = o.TakerPays.Value
	case funds.Signum() > 0:
		o.IsFullyFunded = false
		o.TakerGetsFunded = funds
		o.TakerPaysFunded = funds.Mul(o.Quality)
		if o.TakerPays.IsNative() {
			o.TakerPaysFunded = o.TakerPaysFunded.Floor()
		}
	default:
		o.IsFullyFunded = false
		o.TakerGetsFunded = amount.Zero()
		o.TakerPaysFunded = amount.Zero()
	}
}

// Clone returns an independent copy.
func (o *Offer) Clone() *Offer {
	dup := *o
	if o.Expiration != nil {
		exp := *o.Expiration
		dup.Expiration = &exp
	}
	return &dup
}

// MarshalJSON renders the offer in the book_offers wire shape.
func (o *Offer) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"Account":           o.Account,
		"Flags":             o.Flags,
		"Sequence":          o.Sequence,
		"TakerGets":         o.TakerGets,
		"TakerPays":         o.TakerPays,
		"quality":           o.Quality.String(),
		"taker_gets_funded": o.TakerGets.WithValue(o.TakerGetsFunded).ValueString(),
		"taker_pays_funded": o.TakerPays.WithValue(o.TakerPaysFunded).ValueString(),
		"is_fully_funded":   o.IsFullyFunded,
	}
	if o.BookDirectory != "" {
		out["BookDirectory"] = o.BookDirectory
	}
	if o.ID != "" {
		out["index"] = o.ID
	}
	if o.Expiration != nil {
		out["Expiration"] = *o.Expiration
	}
	if o.OwnerFunds != "" {
		out["owner_funds"] = o.OwnerFunds
	}
	if o.Autobridged {
		out["autobridged"] = true
	}
	return json.Marshal(out)
}

func nodeUint32(n meta.Node, name string) uint32 {
	v, _ := nodeOptUint32(n, name)
	return v
}

func nodeOptUint32(n meta.Node, name string) (uint32, bool) {
	raw, ok := n.Fields[name]
	if !ok {
		return 0, false
	}
	var v uint32
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
