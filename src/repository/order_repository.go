package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalgate/src/database"
	"signalgate/src/model"
)

// OrderRepository handles approved orders and their dispatch logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// OrderSearchOptions narrows Search. Zero values are ignored.
type OrderSearchOptions struct {
	AccountID     model.AccountID
	AnalystID     model.AnalystID
	Symbol        *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// Create inserts a new approved order.
// The given order will be updated with the generated ID and timestamps.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.ApprovedOrder,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":      "OrderRepository",
		"op":        "Create",
		"signal_id": order.SignalID,
		"symbol":    order.Symbol,
		"side":      order.Side,
		"size":      order.Size.String(),
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "OrderRepository",
			"op":        "Create",
			"signal_id": order.SignalID,
		}).WithError(err).Error("Failed to create order")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// FindBySignalID fetches the order approved for a signal, with its dispatch logs.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindBySignalID(
	ctx context.Context,
	signalID string,
) (*model.ApprovedOrder, error) {

	var order model.ApprovedOrder

	err := r.db.WithContext(ctx).
		Preload("Logs").
		Where("signal_id = ?", signalID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":      "OrderRepository",
				"op":        "FindBySignalID",
				"signal_id": signalID,
			}).Info("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "OrderRepository",
			"op":        "FindBySignalID",
			"signal_id": signalID,
		}).WithError(err).Error("Failed to fetch order by signal ID")

		return nil, err
	}

	return &order, nil
}

// Search returns orders matching the options, newest first.
func (r *OrderRepository) Search(
	ctx context.Context,
	options OrderSearchOptions,
) ([]model.ApprovedOrder, error) {

	query := r.db.WithContext(ctx).Model(&model.ApprovedOrder{})

	if options.AccountID != "" {
		query = query.Where("account_id = ?", options.AccountID)
	}
	if options.AnalystID != "" {
		query = query.Where("analyst_id = ?", options.AnalystID)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *options.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var orders []model.ApprovedOrder
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "Search",
			"account_id": options.AccountID,
			"analyst_id": options.AnalystID,
		}).WithError(err).Error("Failed to search orders")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "Search",
		"rows_return": len(orders),
	}).Debug("Orders searched")

	return orders, nil
}

// UpdateStatus updates only the status of the given order ID.
func (r *OrderRepository) UpdateStatus(
	ctx context.Context,
	id uint,
	status string,
) error {

	err := r.db.WithContext(ctx).
		Model(&model.ApprovedOrder{}).
		Where("id = ?", id).
		Update("status", status).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "UpdateStatus",
			"id":     id,
			"status": status,
		}).WithError(err).Error("Failed to update order status")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "UpdateStatus",
		"id":     id,
		"status": status,
	}).Info("Order status updated successfully")

	return nil
}

// ---------------------------------------------------
// Dispatch log methods
// ---------------------------------------------------

// RecordDispatch stores a dispatch attempt and moves the order to status in
// one transaction.
func (r *OrderRepository) RecordDispatch(
	ctx context.Context,
	logEntry *model.OrderDispatchLog,
	status string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":      "OrderRepository",
		"op":        "RecordDispatch",
		"order_id":  logEntry.OrderID,
		"sink":      logEntry.Sink,
		"status":    logEntry.Status,
		"newStatus": status,
	}).Debug("Recording dispatch attempt")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(logEntry).Error; err != nil {
			logger.WithError(err).Error("Failed to create dispatch log inside transaction")
			return err
		}

		if err := tx.
			Model(&model.ApprovedOrder{}).
			Where("id = ?", logEntry.OrderID).
			Update("status", status).Error; err != nil {
			logger.WithError(err).Error("Failed to update order status inside transaction")
			return err
		}

		return nil
	})
}
