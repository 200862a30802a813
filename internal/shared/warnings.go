package shared

import "fmt"

// WarningCode classifies a degraded side effect.
type WarningCode string

const (
	WarningStockFailed    WarningCode = "STOCK_FAILED"
	WarningNegativeStock  WarningCode = "NEGATIVE_STOCK"
	WarningKitchenCleanup WarningCode = "KITCHEN_CLEANUP_FAILED"
)

// Warning reports a secondary mutation that failed or degraded while the
// primary command still committed.
type Warning struct {
	Code    WarningCode `json:"code"`
	Entity  string      `json:"entity"`
	Ref     string      `json:"ref"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s/%s: %s", w.Code, w.Entity, w.Ref, w.Message)
}

// Warnings accumulates warnings for a single command.
type Warnings []Warning

// Add appends a warning built from err.
func (ws *Warnings) Add(code WarningCode, entity, ref string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	*ws = append(*ws, Warning{Code: code, Entity: entity, Ref: ref, Message: msg})
}
