package database

// UniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const UniqueViolation = "23505"

// OrderNumberConstraint is the unique constraint guarding orders.order_number
const OrderNumberConstraint = "orders_order_number_key"

const (
	createMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			migration_name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`

	recordMigrationSQL = `INSERT INTO schema_migrations (migration_name) VALUES ($1)`
)

// Menu catalog queries
const (
	GetMenuItemsByIDsSQL = `
		SELECT id, name, image_url, category, price, is_available, deleted_at
		FROM menu_items WHERE id = ANY($1)`

	GetMenuOptionsByIDsSQL = `
		SELECT id, menu_item_id, group_name, name, price_delta, is_available, deleted_at
		FROM menu_options WHERE id = ANY($1)`
)

// Order queries
const (
	InsertOrderSQL = `
		INSERT INTO orders (id, order_number, phone, name, status, payment_status,
			subtotal, tax_amount, service_fee, total, order_source, customer_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	InsertOrderItemSQL = `
		INSERT INTO order_items (id, order_id, line_no, menu_item_id, name_snapshot, image_url_snapshot,
			category_snapshot, quantity, unit_price, final_price, special_instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	InsertOrderItemOptionSQL = `
		INSERT INTO order_item_options (id, order_item_id, line_no, menu_option_id, option_name_snapshot,
			group_name_snapshot, price_delta, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	InsertOrderStatusLogSQL = `
		INSERT INTO order_status_log (order_id, status, payment_status, changed_by, notes)
		VALUES ($1, $2, $3, $4, $5)`

	orderColumns = `id, order_number, phone, name, status, payment_status, subtotal, tax_amount,
			service_fee, total, order_source, customer_note, created_at, updated_at`

	GetOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	GetOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	LockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	UpdateOrderStateSQL = `
		UPDATE orders SET status = $2, payment_status = $3,
			updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1
		RETURNING updated_at`

	// the returned time orders the delete after every earlier change of the row
	DeleteOrderSQL = `
		DELETE FROM orders WHERE id = $1
		RETURNING GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')`

	// $1 start, $2 end, $3 status or NULL, $4 payment status or NULL, $5 limit, $6 offset
	ListOrdersSQL = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
			AND ($3::text IS NULL OR status = $3)
			AND ($4::text IS NULL OR payment_status = $4)
			AND ($7::timestamptz IS NULL OR (created_at, id) > ($7::timestamptz, $8::uuid))
		ORDER BY created_at ASC, id ASC
		LIMIT $5 OFFSET $6`

	CountOrdersSQL = `
		SELECT COUNT(*)
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
			AND ($3::text IS NULL OR status = $3)
			AND ($4::text IS NULL OR payment_status = $4)`

	GetOrderItemsSQL = `
		SELECT id, order_id, menu_item_id, name_snapshot, image_url_snapshot, category_snapshot,
			quantity, unit_price, final_price, special_instructions
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`

	GetOrderItemOptionsSQL = `
		SELECT o.id, o.order_item_id, o.menu_option_id, o.option_name_snapshot, o.group_name_snapshot,
			o.price_delta, o.quantity
		FROM order_item_options o
		JOIN order_items i ON i.id = o.order_item_id
		WHERE i.order_id = ANY($1)
		ORDER BY o.order_item_id, o.line_no`

	GetOrderStatusHistorySQL = `
		SELECT status, payment_status, changed_by, changed_at, notes
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY changed_at ASC, id ASC`

	OrderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)
