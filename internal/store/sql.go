package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/efreitasn/bourse/internal/domain"
)

type productRow struct {
	ProductID      string          `gorm:"column:product_id;primaryKey;type:varchar(64)"`
	Name           string          `gorm:"column:name;type:varchar(255);not null;default:''"`
	BasePrice      decimal.Decimal `gorm:"column:base_price;type:text;not null"`
	StockAvailable int64           `gorm:"column:stock_available;not null;default:0"`
	TotalProDemand int64           `gorm:"column:total_pro_demand;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (productRow) TableName() string { return "market_states" }

type orderRow struct {
	OrderID    string          `gorm:"column:order_id;primaryKey;type:varchar(36)"`
	ProductID  string          `gorm:"column:product_id;type:varchar(64);index;not null"`
	BuyerID    string          `gorm:"column:buyer_id;type:varchar(64);index;not null"`
	Quantity   int64           `gorm:"column:quantity;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:text;not null"`
	Status     string          `gorm:"column:status;type:varchar(16);index;not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;index"`
	ResolvedAt *time.Time      `gorm:"column:resolved_at"`
	ResolvedBy string          `gorm:"column:resolved_by;type:varchar(64);not null;default:''"`
}

func (orderRow) TableName() string { return "orders" }

func productFromRow(r *productRow) *domain.Product {
	return &domain.Product{
		ProductID:      r.ProductID,
		Name:           r.Name,
		BasePrice:      r.BasePrice,
		StockAvailable: r.StockAvailable,
		TotalProDemand: r.TotalProDemand,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func productToRow(p *domain.Product) *productRow {
	return &productRow{
		ProductID:      p.ProductID,
		Name:           p.Name,
		BasePrice:      p.BasePrice,
		StockAvailable: p.StockAvailable,
		TotalProDemand: p.TotalProDemand,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func orderFromRow(r *orderRow) *domain.Order {
	o := &domain.Order{
		OrderID:    r.OrderID,
		ProductID:  r.ProductID,
		BuyerID:    r.BuyerID,
		Quantity:   r.Quantity,
		UnitPrice:  r.UnitPrice,
		Status:     domain.OrderStatus(r.Status),
		CreatedAt:  r.CreatedAt.UTC(),
		ResolvedBy: r.ResolvedBy,
	}
	if r.ResolvedAt != nil {
		at := r.ResolvedAt.UTC()
		o.ResolvedAt = &at
	}
	return o
}

func orderToRow(o *domain.Order) *orderRow {
	return &orderRow{
		OrderID:    o.OrderID,
		ProductID:  o.ProductID,
		BuyerID:    o.BuyerID,
		Quantity:   o.Quantity,
		UnitPrice:  o.UnitPrice,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		ResolvedAt: o.ResolvedAt,
		ResolvedBy: o.ResolvedBy,
	}
}

// SQLStore persists markets and orders in SQLite through gorm. Every
// mutating primitive runs in one transaction and guards its counter update
// with a conditional WHERE, so a concurrent writer can never double-apply a
// transition.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens (or creates) the SQLite database at path and migrates
// the schema.
func NewSQLStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions
	// from tripping over each other inside this process.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&productRow{}, &orderRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&productRow{}).Where("product_id = ?", p.ProductID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrProductAlreadyExists
		}
		return tx.Create(productToRow(p)).Error
	})
	return wrapErr("create_product", err)
}

func (s *SQLStore) UpdateProduct(ctx context.Context, productID string, fn func(p *domain.Product) error) (*domain.Product, error) {
	var out *domain.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row productRow
		if err := tx.First(&row, "product_id = ?", productID).Error; err != nil {
			return notFound(err, domain.ErrProductNotFound)
		}
		stored := productFromRow(&row)
		draft := *stored
		if err := fn(&draft); err != nil {
			return err
		}
		draft.ProductID = stored.ProductID
		draft.TotalProDemand = stored.TotalProDemand
		if err := draft.Validate(); err != nil {
			return err
		}
		draft.UpdatedAt = time.Now().UTC()
		res := tx.Model(&productRow{}).Where("product_id = ?", productID).Updates(map[string]any{
			"name":            draft.Name,
			"base_price":      draft.BasePrice,
			"stock_available": draft.StockAvailable,
			"updated_at":      draft.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		out = &draft
		return nil
	})
	if err != nil {
		return nil, wrapErr("update_product", err)
	}
	return out, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var row productRow
	if err := s.db.WithContext(ctx).First(&row, "product_id = ?", productID).Error; err != nil {
		return nil, wrapErr("get_product", notFound(err, domain.ErrProductNotFound))
	}
	return productFromRow(&row), nil
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	var rows []productRow
	if err := s.db.WithContext(ctx).Order("product_id asc").Find(&rows).Error; err != nil {
		return nil, wrapErr("list_products", err)
	}
	return productsFromRows(rows), nil
}

func productsFromRows(rows []productRow) []*domain.Product {
	out := make([]*domain.Product, len(rows))
	for i := range rows {
		out[i] = productFromRow(&rows[i])
	}
	return out
}

func (s *SQLStore) InsertOrder(ctx context.Context, o *domain.Order) (*domain.Product, error) {
	var out *domain.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if o.Quantity <= 0 {
			return &domain.ValidationError{Message: "quantity must be greater than 0"}
		}
		res := tx.Model(&productRow{}).
			Where("product_id = ? AND stock_available > 0 AND total_pro_demand <= ?", o.ProductID, math.MaxInt64-o.Quantity).
			Updates(map[string]any{
				"total_pro_demand": gorm.Expr("total_pro_demand + ?", o.Quantity),
				"updated_at":       o.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var row productRow
			if err := tx.First(&row, "product_id = ?", o.ProductID).Error; err != nil {
				return notFound(err, domain.ErrProductNotFound)
			}
			if row.StockAvailable <= 0 {
				return domain.ErrOutOfStock
			}
			return domain.DemandOverflowError(o.ProductID)
		}
		if err := tx.Create(orderToRow(o)).Error; err != nil {
			return err
		}
		var row productRow
		if err := tx.First(&row, "product_id = ?", o.ProductID).Error; err != nil {
			return err
		}
		out = productFromRow(&row)
		return nil
	})
	if err != nil {
		return nil, wrapErr("insert_order", err)
	}
	return out, nil
}

func (s *SQLStore) TransitionOrder(ctx context.Context, t domain.OrderTransition) (*domain.Order, *domain.Product, error) {
	var (
		order   *domain.Order
		product *domain.Product
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row orderRow
		if err := tx.First(&row, "order_id = ?", t.OrderID).Error; err != nil {
			return notFound(err, domain.ErrOrderNotFound)
		}
		if domain.OrderStatus(row.Status) != t.From || !t.From.CanTransition(t.To) {
			return domain.ErrInvalidTransition
		}

		res := tx.Model(&orderRow{}).
			Where("order_id = ? AND status = ?", t.OrderID, string(t.From)).
			Updates(map[string]any{
				"status":      string(t.To),
				"resolved_at": t.At,
				"resolved_by": t.ActorID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInvalidTransition
		}

		q := tx.Model(&productRow{}).Where("product_id = ?", row.ProductID)
		if t.To == domain.OrderStatusMatched {
			q = q.Where("stock_available >= ?", row.Quantity)
		}
		res = q.Updates(map[string]any{
			"stock_available":  gorm.Expr("stock_available + ?", t.StockDelta(row.Quantity)),
			"total_pro_demand": gorm.Expr("MAX(total_pro_demand + ?, 0)", t.DemandDelta(row.Quantity)),
			"updated_at":       t.At,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if t.To == domain.OrderStatusMatched {
				return domain.ErrInsufficientStock
			}
			return domain.ErrProductNotFound
		}

		if err := tx.First(&row, "order_id = ?", t.OrderID).Error; err != nil {
			return err
		}
		var prow productRow
		if err := tx.First(&prow, "product_id = ?", row.ProductID).Error; err != nil {
			return err
		}
		order = orderFromRow(&row)
		product = productFromRow(&prow)
		return nil
	})
	if err != nil {
		return nil, nil, wrapErr("transition_order", err)
	}
	return order, product, nil
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var row orderRow
	if err := s.db.WithContext(ctx).First(&row, "order_id = ?", orderID).Error; err != nil {
		return nil, wrapErr("get_order", notFound(err, domain.ErrOrderNotFound))
	}
	return orderFromRow(&row), nil
}

func (s *SQLStore) ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, int, error) {
	q := s.db.WithContext(ctx).Model(&orderRow{})
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapErr("list_orders", err)
	}

	q = q.Order("created_at desc").Order("order_id desc")
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Limit(f.Limit).Offset((page - 1) * f.Limit)
	}

	var rows []orderRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, wrapErr("list_orders", err)
	}
	out := make([]*domain.Order, len(rows))
	for i := range rows {
		out[i] = orderFromRow(&rows[i])
	}
	return out, int(total), nil
}

type statusCountRow struct {
	Status string
	N      int64
}

type demandRow struct {
	ProductID string
	Qty       int64
}

func (s *SQLStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{PendingDemand: make(map[string]int64)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []productRow
		if err := tx.Order("product_id asc").Find(&rows).Error; err != nil {
			return err
		}
		snap.Products = productsFromRows(rows)

		var counts []statusCountRow
		if err := tx.Model(&orderRow{}).Select("status, COUNT(*) AS n").Group("status").Scan(&counts).Error; err != nil {
			return err
		}
		for _, c := range counts {
			snap.Counts.Add(domain.OrderStatus(c.Status), c.N)
		}

		var demand []demandRow
		if err := tx.Model(&orderRow{}).
			Select("product_id, SUM(quantity) AS qty").
			Where("status = ?", string(domain.OrderStatusPending)).
			Group("product_id").
			Scan(&demand).Error; err != nil {
			return err
		}
		for _, d := range demand {
			snap.PendingDemand[d.ProductID] = d.Qty
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("snapshot", err)
	}
	snap.TakenAt = time.Now().UTC()
	return snap, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// businessErrors pass through wrapErr untouched.
var businessErrors = []error{
	domain.ErrProductAlreadyExists,
	domain.ErrProductNotFound,
	domain.ErrOrderNotFound,
	domain.ErrOutOfStock,
	domain.ErrInvalidTransition,
	domain.ErrInsufficientStock,
	domain.ErrConfiguration,
}

// wrapErr turns driver failures into *domain.StoreError. Lock contention
// and I/O hiccups are marked retriable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, b := range businessErrors {
		if errors.Is(err, b) {
			return err
		}
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.StoreError{Op: op, Err: err, Retriable: isTransient(err)}
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "busy", "i/o", "connection reset", "bad connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
