package memstore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/internal/models"
	"stockledger/internal/repositories"
	"stockledger/internal/retry"
)

type productRepo struct{ s *session }

func (r *productRepo) Create(ctx context.Context, product *models.Product) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("create_product"); err != nil {
		return err
	}

	if _, ok := st.products[product.ID]; ok {
		return fmt.Errorf("product %s: %w", product.ID, retry.ErrUniqueness)
	}
	if _, ok := st.skus[product.SKU]; ok {
		return fmt.Errorf("sku %q: %w", product.SKU, retry.ErrUniqueness)
	}
	now := r.s.store.now()
	product.CreatedAt, product.UpdatedAt = now, now
	p := *product
	st.products[p.ID] = &p
	st.skus[p.SKU] = p.ID
	return nil
}

func (r *productRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	st, unlock := r.s.lock()
	defer unlock()
	p, ok := st.products[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (r *productRepo) List(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if filter == nil {
		filter = &models.ProductFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var out []*models.Product
	for _, p := range st.products {
		if q != "" && !strings.HasPrefix(strings.ToLower(p.Name), q) && !strings.HasPrefix(strings.ToLower(p.SKU), q) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, filter.Offset, limit), nil
}

type inventoryRepo struct{ s *session }

func copyInventory(inv *models.Inventory) *models.Inventory {
	out := *inv
	out.RecentMovements = slices.Clone(inv.RecentMovements)
	if out.RecentMovements == nil {
		out.RecentMovements = []uuid.UUID{}
	}
	return &out
}

func (r *inventoryRepo) Create(ctx context.Context, inventory *models.Inventory) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("create_inventory"); err != nil {
		return err
	}
	if _, ok := st.inventory[inventory.ProductID]; ok {
		return nil
	}
	st.inventory[inventory.ProductID] = &models.Inventory{
		ProductID:       inventory.ProductID,
		ReorderPoint:    inventory.ReorderPoint,
		ReorderQuantity: inventory.ReorderQuantity,
		StockValue:      decimal.Zero,
		RecentMovements: []uuid.UUID{},
		LastUpdated:     r.s.store.now(),
	}
	return nil
}

func (r *inventoryRepo) Ensure(ctx context.Context, productID uuid.UUID) error {
	return r.Create(ctx, &models.Inventory{ProductID: productID})
}

func (r *inventoryRepo) GetByProductID(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	st, unlock := r.s.lock()
	defer unlock()
	inv, ok := st.inventory[productID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return copyInventory(inv), nil
}

// GetForUpdate needs no row lock here; transactions are serialized.
func (r *inventoryRepo) GetForUpdate(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	return r.GetByProductID(ctx, productID)
}

func (r *inventoryRepo) ListLowStock(ctx context.Context, limit int) ([]*models.Inventory, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*models.Inventory
	for _, inv := range st.inventory {
		if inv.NeedsReorder() {
			out = append(out, copyInventory(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentStock != out[j].CurrentStock {
			return out[i].CurrentStock < out[j].CurrentStock
		}
		return out[i].ProductID.String() < out[j].ProductID.String()
	})
	return page(out, 0, limit), nil
}

func (r *inventoryRepo) AtomicStockUpdate(ctx context.Context, productID uuid.UUID, delta int, opts repositories.StockUpdateOptions) (models.StockChange, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("atomic_stock_update"); err != nil {
		return models.StockChange{}, err
	}

	inv, ok := st.inventory[productID]
	if !ok {
		return models.StockChange{}, repositories.ErrNotFound
	}
	floor := opts.MinStock
	if opts.AllowNegative && !opts.RequireSufficient {
		floor = math.MinInt32
	}

	change := models.StockChange{Previous: inv.CurrentStock}
	next := inv.CurrentStock + delta
	if opts.RequireSufficient && next < floor {
		return change, fmt.Errorf("%w: have %d, change %d", repositories.ErrInsufficientStock, inv.CurrentStock, delta)
	}
	if next < floor {
		next = floor
	}
	inv.CurrentStock = next
	inv.AvailableStock = models.AvailableFrom(next, inv.ReservedStock)
	inv.LastUpdated = r.s.store.now()
	change.Current = next
	return change, nil
}

func (r *inventoryRepo) AtomicBalanceUpdate(ctx context.Context, productID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("atomic_balance_update"); err != nil {
		return decimal.Zero, err
	}
	inv, ok := st.inventory[productID]
	if !ok {
		return decimal.Zero, repositories.ErrNotFound
	}
	inv.StockValue = inv.StockValue.Add(delta)
	return inv.StockValue, nil
}

func (r *inventoryRepo) AppendRecentMovement(ctx context.Context, productID, movementID uuid.UUID, limit int) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("append_recent_movement"); err != nil {
		return err
	}
	inv, ok := st.inventory[productID]
	if !ok {
		return repositories.ErrNotFound
	}
	if limit <= 0 {
		limit = models.RecentMovementLimit
	}
	inv.RecentMovements = append(inv.RecentMovements, movementID)
	if over := len(inv.RecentMovements) - limit; over > 0 {
		inv.RecentMovements = slices.Clone(inv.RecentMovements[over:])
	}
	return nil
}

func (r *inventoryRepo) RemoveRecentMovement(ctx context.Context, productID, movementID uuid.UUID) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("remove_recent_movement"); err != nil {
		return err
	}
	inv, ok := st.inventory[productID]
	if !ok {
		return repositories.ErrNotFound
	}
	inv.RecentMovements = slices.DeleteFunc(inv.RecentMovements, func(id uuid.UUID) bool { return id == movementID })
	return nil
}

func (r *inventoryRepo) UpdateFields(ctx context.Context, productID uuid.UUID, fields map[string]any) (*models.Inventory, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", repositories.ErrValidation)
	}
	values := make(map[string]int, len(fields))
	for column, value := range fields {
		n, ok := value.(int)
		if column != "reorder_point" && column != "reorder_quantity" {
			return nil, fmt.Errorf("%w: field %q cannot be updated", repositories.ErrValidation, column)
		}
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: field %q must be a non-negative integer", repositories.ErrValidation, column)
		}
		values[column] = n
	}
	if err := r.s.write("update_fields"); err != nil {
		return nil, err
	}

	inv, ok := st.inventory[productID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if n, ok := values["reorder_point"]; ok {
		inv.ReorderPoint = n
	}
	if n, ok := values["reorder_quantity"]; ok {
		inv.ReorderQuantity = n
	}
	inv.LastUpdated = r.s.store.now()
	return copyInventory(inv), nil
}

func (r *inventoryRepo) IncrementField(ctx context.Context, productID uuid.UUID, column string, delta int) (int, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("increment_field"); err != nil {
		return 0, err
	}
	inv, ok := st.inventory[productID]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	switch column {
	case "movement_count":
		inv.MovementCount += delta
		return inv.MovementCount, nil
	case "reorder_point":
		inv.ReorderPoint += delta
		return inv.ReorderPoint, nil
	case "reorder_quantity":
		inv.ReorderQuantity += delta
		return inv.ReorderQuantity, nil
	}
	return 0, fmt.Errorf("%w: field %q cannot be incremented", repositories.ErrValidation, column)
}

func (r *inventoryRepo) RecomputeReserved(ctx context.Context, productID uuid.UUID, now time.Time) (*models.Inventory, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("recompute_reserved"); err != nil {
		return nil, err
	}
	inv, ok := st.inventory[productID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	inv.ReservedStock = sumLive(st.reservations[productID], now)
	inv.AvailableStock = models.AvailableFrom(inv.CurrentStock, inv.ReservedStock)
	inv.LastUpdated = r.s.store.now()
	return copyInventory(inv), nil
}

func sumLive(holds map[string]*models.StockReservation, now time.Time) int {
	total := 0
	for _, h := range holds {
		if h.Live(now) {
			total += h.Quantity
		}
	}
	return total
}

type movementRepo struct{ s *session }

func (r *movementRepo) Create(ctx context.Context, m *models.StockMovement) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("create_movement"); err != nil {
		return err
	}
	if _, ok := st.movements[m.ID]; ok {
		return fmt.Errorf("movement %s: %w", m.ID, retry.ErrUniqueness)
	}
	m.CreatedAt = r.s.stamp(st)
	cp := *m
	st.movements[m.ID] = &cp
	st.order = append(st.order, m.ID)
	return nil
}

func (r *movementRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.StockMovement, error) {
	st, unlock := r.s.lock()
	defer unlock()
	m, ok := st.movements[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *m
	return &out, nil
}

func (r *movementRepo) List(ctx context.Context, filter *models.MovementFilter) ([]*models.StockMovement, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if filter == nil {
		filter = &models.MovementFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var out []*models.StockMovement
	for i := len(st.order) - 1; i >= 0; i-- {
		m := st.movements[st.order[i]]
		switch {
		case filter.ProductID != nil && m.ProductID != *filter.ProductID,
			filter.Type != nil && m.Type != *filter.Type,
			filter.ReferenceID != "" && m.ReferenceID != filter.ReferenceID,
			filter.From != nil && m.CreatedAt.Before(*filter.From),
			filter.To != nil && m.CreatedAt.After(*filter.To):
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return page(out, filter.Offset, limit), nil
}

func (r *movementRepo) MarkReversed(ctx context.Context, id, reversalID uuid.UUID, actor string, at time.Time) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("mark_reversed"); err != nil {
		return err
	}
	m, ok := st.movements[id]
	if !ok || m.IsReversal || m.Status != models.MovementStatusCompleted {
		return repositories.ErrStateConflict
	}
	m.Status = models.MovementStatusReversed
	m.ReversalMovementID = &reversalID
	m.ReversedBy = &actor
	m.ReversedAt = &at
	return nil
}

func (r *movementRepo) Aggregate(ctx context.Context, productID uuid.UUID, asOf time.Time) ([]models.MovementAggregate, error) {
	st, unlock := r.s.lock()
	defer unlock()

	type bucket struct {
		typ        models.MovementType
		isReversal bool
	}
	totals := make(map[bucket]*models.MovementAggregate)
	for _, id := range st.order {
		m := st.movements[id]
		if m.ProductID != productID || m.CreatedAt.After(asOf) || !m.Counted() {
			continue
		}
		key := bucket{m.Type, m.IsReversal}
		agg, ok := totals[key]
		if !ok {
			agg = &models.MovementAggregate{Type: m.Type, IsReversal: m.IsReversal, Value: decimal.Zero}
			totals[key] = agg
		}
		agg.Quantity += m.Quantity
		agg.Value = agg.Value.Add(m.TotalValue)
		agg.Count++
	}

	out := make([]models.MovementAggregate, 0, len(totals))
	for _, agg := range totals {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return !out[i].IsReversal && out[j].IsReversal
	})
	return out, nil
}

type reservationRepo struct{ s *session }

func (r *reservationRepo) Create(ctx context.Context, res *models.StockReservation, now time.Time) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("create_reservation"); err != nil {
		return err
	}
	holds := st.reservations[res.ProductID]
	if holds == nil {
		holds = make(map[string]*models.StockReservation)
		st.reservations[res.ProductID] = holds
	}
	if existing, ok := holds[res.ID]; ok && existing.Live(now) {
		return fmt.Errorf("reservation %q already held: %w", res.ID, retry.ErrUniqueness)
	}
	cp := *res
	holds[res.ID] = &cp
	return nil
}

func (r *reservationRepo) Get(ctx context.Context, productID uuid.UUID, reservationID string) (*models.StockReservation, error) {
	st, unlock := r.s.lock()
	defer unlock()
	h, ok := st.reservations[productID][reservationID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *h
	return &out, nil
}

func (r *reservationRepo) Delete(ctx context.Context, productID uuid.UUID, reservationID string) error {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("delete_reservation"); err != nil {
		return err
	}
	if _, ok := st.reservations[productID][reservationID]; !ok {
		return repositories.ErrNotFound
	}
	delete(st.reservations[productID], reservationID)
	return nil
}

func (r *reservationRepo) Extend(ctx context.Context, productID uuid.UUID, reservationID string, minutes int, now time.Time) (*models.StockReservation, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("extend_reservation"); err != nil {
		return nil, err
	}
	h, ok := st.reservations[productID][reservationID]
	if !ok || !h.Live(now) {
		return nil, repositories.ErrNotFound
	}
	h.ExpiresAt = h.ExpiresAt.Add(time.Duration(minutes) * time.Minute)
	out := *h
	return &out, nil
}

func (r *reservationRepo) ListActive(ctx context.Context, productID uuid.UUID, now time.Time) ([]*models.StockReservation, error) {
	st, unlock := r.s.lock()
	defer unlock()
	var out []*models.StockReservation
	for _, h := range st.reservations[productID] {
		if h.Live(now) {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *reservationRepo) SumActive(ctx context.Context, productID uuid.UUID, now time.Time) (int, error) {
	st, unlock := r.s.lock()
	defer unlock()
	return sumLive(st.reservations[productID], now), nil
}

func (r *reservationRepo) DeleteExpired(ctx context.Context, productID uuid.UUID, now time.Time) (int, error) {
	st, unlock := r.s.lock()
	defer unlock()
	if err := r.s.write("delete_expired_reservations"); err != nil {
		return 0, err
	}
	removed := 0
	for id, h := range st.reservations[productID] {
		if !h.Live(now) {
			delete(st.reservations[productID], id)
			removed++
		}
	}
	return removed, nil
}

func (r *reservationRepo) ProductsWithExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	st, unlock := r.s.lock()
	defer unlock()
	var ids []uuid.UUID
	for productID, holds := range st.reservations {
		for _, h := range holds {
			if !h.Live(now) {
				ids = append(ids, productID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
