package domain

import (
	"slices"
	"strings"
	"time"
)

// CartItem — строка корзины: товар, количество и цена на момент добавления.
type CartItem struct {
	ProductID      string
	Qty            int32
	UnitPriceMinor int64
	LineTotalMinor int64
	AddedAt        time.Time
}

// Cart — изменяемая корзина покупателя (одна на покупателя).
// TotalMinor всегда пересчитывается из строк и никогда не присваивается напрямую.
type Cart struct {
	ID         string
	BuyerID    string
	Items      []CartItem
	TotalMinor int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewCart создаёт пустую корзину покупателя.
func NewCart(id, buyerID string, now time.Time) Cart {
	return Cart{
		ID:        id,
		BuyerID:   buyerID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Item возвращает строку корзины по товару.
func (c *Cart) Item(productID string) (CartItem, bool) {
	if idx := c.indexOf(productID); idx >= 0 {
		return c.Items[idx], true
	}
	return CartItem{}, false
}

// Add добавляет qty к строке товара или создаёт новую строку с текущей ценой.
// Цена существующей строки не меняется.
func (c *Cart) Add(productID string, qty int32, unitPriceMinor int64, now time.Time) {
	if idx := c.indexOf(productID); idx >= 0 {
		c.Items[idx].Qty += qty
	} else {
		c.Items = append(c.Items, CartItem{
			ProductID:      productID,
			Qty:            qty,
			UnitPriceMinor: unitPriceMinor,
			AddedAt:        now,
		})
	}
	c.touch(now)
}

// SetQty задаёт количество строки. qty <= 0 удаляет строку.
func (c *Cart) SetQty(productID string, qty int32, now time.Time) bool {
	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}
	if qty <= 0 {
		return c.Remove(productID, now)
	}
	c.Items[idx].Qty = qty
	c.touch(now)
	return true
}

// SetPrice обновляет снимок цены строки.
func (c *Cart) SetPrice(productID string, unitPriceMinor int64, now time.Time) bool {
	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}
	c.Items[idx].UnitPriceMinor = unitPriceMinor
	c.touch(now)
	return true
}

// Remove удаляет строку товара. Возвращает false, если строки не было.
func (c *Cart) Remove(productID string, now time.Time) bool {
	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.touch(now)
	return true
}

// Clear очищает корзину.
func (c *Cart) Clear(now time.Time) {
	if len(c.Items) == 0 {
		return
	}
	c.Items = []CartItem{}
	c.touch(now)
}

// IsEmpty сообщает, что в корзине нет строк.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// TotalQty возвращает суммарное количество единиц во всех строках.
func (c *Cart) TotalQty() int32 {
	var total int32
	for _, item := range c.Items {
		total += item.Qty
	}
	return total
}

// ItemsByProduct возвращает копию строк, упорядоченную по ProductID.
// В этом порядке оформление блокирует товары, чтобы встречные транзакции
// не ждали друг друга по кругу.
func (c Cart) ItemsByProduct() []CartItem {
	items := slices.Clone(c.Items)
	slices.SortFunc(items, func(a, b CartItem) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return items
}

// Clone возвращает глубокую копию корзины.
func (c Cart) Clone() Cart {
	out := c
	out.Items = append([]CartItem(nil), c.Items...)
	if out.Items == nil {
		out.Items = []CartItem{}
	}
	return out
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) touch(now time.Time) {
	c.recalculate()
	c.UpdatedAt = now
}

func (c *Cart) recalculate() {
	var total int64
	for i := range c.Items {
		c.Items[i].LineTotalMinor = int64(c.Items[i].Qty) * c.Items[i].UnitPriceMinor
		total += c.Items[i].LineTotalMinor
	}
	c.TotalMinor = total
}
