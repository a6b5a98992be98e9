package domain

import "time"

// DefaultMinStockLevel — порог низкого остатка, если продавец не задал свой.
const DefaultMinStockLevel int32 = 5

// Product — товар продавца вместе с остатком на складе.
type Product struct {
	ID       string
	SellerID string
	Name     string
	// PriceMinor — текущая цена за единицу в минимальных денежных единицах.
	PriceMinor    int64
	StockQuantity int32
	// MinStockLevel — порог, при котором остаток считается низким.
	MinStockLevel int32
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsLowStock сообщает, что остаток положительный, но не выше порога.
func (p Product) IsLowStock() bool {
	return p.StockQuantity > 0 && p.StockQuantity <= p.MinStockLevel
}

// IsOutOfStock сообщает, что товара на складе нет.
func (p Product) IsOutOfStock() bool {
	return p.StockQuantity == 0
}

// Validate проверяет инварианты товара.
func (p *Product) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if p.PriceMinor <= 0 {
		errs = append(errs, ErrPriceInvalid)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if p.MinStockLevel < 1 {
		errs = append(errs, ErrMinStockLevelInvalid)
	}

	return errs
}
