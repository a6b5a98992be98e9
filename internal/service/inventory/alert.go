package inventory

// AlertKind — вид оповещения об изменении остатка.
type AlertKind string

const (
	// AlertNone — изменение не пересекло порог.
	AlertNone AlertKind = ""
	// AlertLowStock — остаток опустился с уровня выше порога до порога или ниже.
	AlertLowStock AlertKind = "low_stock"
	// AlertOutOfStock — остаток закончился.
	AlertOutOfStock AlertKind = "out_of_stock"
)

// Evaluate классифицирует изменение остатка. На одно изменение приходится не
// больше одного оповещения:
//   - out-of-stock, если newStock == 0 и previousStock > 0;
//   - low-stock, если previousStock > minStockLevel и 0 < newStock <= minStockLevel.
//
// Пополнение и движение внутри одной зоны оповещений не вызывают.
func Evaluate(previousStock, newStock, minStockLevel int32) AlertKind {
	switch {
	case newStock == 0 && previousStock > 0:
		return AlertOutOfStock
	case previousStock > minStockLevel && newStock > 0 && newStock <= minStockLevel:
		return AlertLowStock
	default:
		return AlertNone
	}
}
