package meta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMeta = `{
  "AffectedNodes": [
    {
      "ModifiedNode": {
        "LedgerEntryType": "Offer",
        "LedgerIndex": "3B95C29205977C2136BBC70F21895F8C8F471C8522BF446E5981F8F4FD12C7AD",
        "PreviousFields": {
          "TakerGets": {"currency": "CNY", "issuer": "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y", "value": "100"},
          "TakerPays": "2000000"
        },
        "FinalFields": {
          "Account": "rBxy23n7ZFbUpS699rFVj1V9ZVhAq6EGwC",
          "Sequence": 1404,
          "TakerGets": {"currency": "CNY", "issuer": "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y", "value": "75"},
          "TakerPays": "1500000"
        }
      }
    },
    {
      "DeletedNode": {
        "LedgerEntryType": "Offer",
        "LedgerIndex": "9DB660A1F5F312F9D1CEDD8E3BCC5AE8D6A7837B10EFD1E70F1EC1C8F6C84C09",
        "FinalFields": {
          "Account": "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y",
          "TakerGets": "5000000",
          "TakerPays": {"currency": "USD", "issuer": "rhub8VRN55s94qWKDv6jmDy1pUykJzF3wq", "value": "2"}
        }
      }
    },
    {
      "ModifiedNode": {
        "LedgerEntryType": "AccountRoot",
        "LedgerIndex": "13F1A95D7AAB7108D5CE7EEAF504B2894B8C674E6D68499076983C4A1F521E8F",
        "PreviousFields": {"Balance": "1000000000"},
        "FinalFields": {
          "Account": "rBxy23n7ZFbUpS699rFVj1V9ZVhAq6EGwC",
          "Balance": "998500000"
        }
      }
    }
  ]
}`

func TestAffectedNodesUnfiltered(t *testing.T) {
	nodes := AffectedNodes(json.RawMessage(sampleMeta), nil)
	require.Len(t, nodes, 3)

	offer := nodes[0]
	assert.Equal(t, NodeModified, offer.NodeType)
	assert.Equal(t, "Offer", offer.EntryType)
	assert.Equal(t, "3B95C29205977C2136BBC70F21895F8C8F471C8522BF446E5981F8F4FD12C7AD", offer.LedgerIndex)
	assert.Equal(t, "CNY/rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y:XRP", offer.BookKey)

	// Final fields win in the merged view.
	gets, err := offer.Amount("TakerGets")
	require.NoError(t, err)
	assert.Equal(t, "75", gets.ValueString())

	prev, err := offer.PrevAmount("TakerGets")
	require.NoError(t, err)
	assert.Equal(t, "100", prev.ValueString())

	assert.Equal(t, "rBxy23n7ZFbUpS699rFVj1V9ZVhAq6EGwC", offer.Text("Account"))
}

func TestAffectedNodesFiltered(t *testing.T) {
	nodes := AffectedNodes(json.RawMessage(sampleMeta), &Filter{
		EntryType: "Offer",
		BookKey:   "XRP:USD/rhub8VRN55s94qWKDv6jmDy1pUykJzF3wq",
	})
	require.Len(t, nodes, 1)
	assert.Equal(t, NodeDeleted, nodes[0].NodeType)

	nodes = AffectedNodes(json.RawMessage(sampleMeta), &Filter{
		NodeType:  NodeModified,
		EntryType: "AccountRoot",
	})
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].HasPrev("Balance"))
	assert.True(t, nodes[0].HasFinal("Balance"))

	balance, err := nodes[0].FinalAmount("Balance")
	require.NoError(t, err)
	assert.Equal(t, "998500000", balance.ValueString())
}

func TestAffectedNodesSoftFailure(t *testing.T) {
	assert.Empty(t, AffectedNodes(nil, nil))
	assert.Empty(t, AffectedNodes(json.RawMessage(`{}`), nil))
	assert.Empty(t, AffectedNodes(json.RawMessage(`"not metadata"`), nil))
	assert.Empty(t, AffectedNodes(json.RawMessage(`{"AffectedNodes": "wrong"}`), nil))
}

func TestLimitIssuer(t *testing.T) {
	raw := `{
	  "AffectedNodes": [
	    {
	      "ModifiedNode": {
	        "LedgerEntryType": "RippleState",
	        "LedgerIndex": "AE0E6E5E63DDA5EEC5AA5B67D7A148AEC13F5E9B14E83D32A08E0C26459A8E20",
	        "PreviousFields": {"Balance": {"currency": "CNY", "issuer": "", "value": "-10"}},
	        "FinalFields": {
	          "Balance": {"currency": "CNY", "issuer": "", "value": "-12.5"},
	          "HighLimit": {"currency": "CNY", "issuer": "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y", "value": "0"},
	          "LowLimit": {"currency": "CNY", "issuer": "rBxy23n7ZFbUpS699rFVj1V9ZVhAq6EGwC", "value": "100"}
	        }
	      }
	    }
	  ]
	}`
	nodes := AffectedNodes(json.RawMessage(raw), &Filter{EntryType: "RippleState"})
	require.Len(t, nodes, 1)
	assert.Equal(t, "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y", nodes[0].LimitIssuer("HighLimit"))
	assert.Equal(t, "rBxy23n7ZFbUpS699rFVj1V9ZVhAq6EGwC", nodes[0].LimitIssuer("LowLimit"))
}
