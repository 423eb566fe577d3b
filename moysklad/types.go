/*
types.go - Row shapes for the subset of the remap API the syncers consume.

Only the fields the synchronizers read are declared; everything else in the
(huge) MoySklad documents is ignored by the decoder. Quantity, price and
stock arrive as JSON numbers that are sometimes serialized as strings by
intermediaries, so they are kept as json.Number and normalized in ingest.
*/
package moysklad

import (
	"encoding/json"
	"strings"
)

// Meta is the reference block MoySklad attaches to every linked entity.
type Meta struct {
	Href string `json:"href"`
}

// MetaRef wraps a bare {meta: {href}} reference.
type MetaRef struct {
	Meta Meta `json:"meta"`
}

// Demand is a retail sales document (entity/retaildemand row).
type Demand struct {
	Name      string   `json:"name"`   // document number
	Moment    string   `json:"moment"` // "2006-01-02 15:04:05.000"
	Owner     *MetaRef `json:"owner"`  // selling employee reference
	Positions *MetaRef `json:"positions"`
}

// Supply is a goods receipt document (entity/supply row).
type Supply struct {
	Name      string   `json:"name"`
	Moment    string   `json:"moment"`
	Agent     *Agent   `json:"agent"` // supplier, inlined by the API
	Positions *MetaRef `json:"positions"`
}

// Agent is a counterparty reference with its display name inlined.
type Agent struct {
	Name string `json:"name"`
}

// Position is one line item of a demand or supply document.
type Position struct {
	Quantity   json.Number `json:"quantity"`
	Price      json.Number `json:"price"` // minor currency units
	Assortment *MetaRef    `json:"assortment"`
}

// Assortment is the catalog entry a position points at.
type Assortment struct {
	Name string `json:"name"`
}

// Employee is the document owner resolved via its href.
type Employee struct {
	Name string `json:"name"`
}

// StockRow is one product line of report/stock/all.
type StockRow struct {
	Name  string      `json:"name"`
	Code  string      `json:"code"`
	Stock json.Number `json:"stock"`
}

// StripMillis removes the ".000" suffix MoySklad appends to moments, giving
// the "2006-01-02 15:04:05" form stored locally.
func StripMillis(moment string) string {
	return strings.TrimSuffix(moment, ".000")
}
