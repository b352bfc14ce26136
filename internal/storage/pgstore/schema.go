package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS carrier_companies (
  co_id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  carrier_code TEXT NOT NULL,
  api_enabled BOOLEAN NOT NULL DEFAULT false
)`,
		`
CREATE TABLE IF NOT EXISTS couriers (
  courier_id BIGINT NOT NULL,
  tenant_id BIGINT NOT NULL,
  co_id BIGINT NOT NULL REFERENCES carrier_companies(co_id),
  name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
  PRIMARY KEY (tenant_id, courier_id)
)`,
		`
CREATE TABLE IF NOT EXISTS tracking (
  id BIGSERIAL PRIMARY KEY,
  tenant_id BIGINT NOT NULL,
  courier_id BIGINT NOT NULL,
  tracking_id TEXT NOT NULL CHECK (tracking_id <> ''),
  status TEXT NOT NULL DEFAULT 'unused' CHECK (status IN ('unused', 'used')),
  order_id BIGINT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  used_at TIMESTAMPTZ NULL,
  UNIQUE (tenant_id, courier_id, tracking_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_fifo ON tracking(tenant_id, courier_id, status, created_at, id)`,
		// used -> unused запрещён на уровне БД.
		`
CREATE OR REPLACE FUNCTION tracking_keep_used() RETURNS trigger AS $$
BEGIN
  IF OLD.status = 'used' AND NEW.status <> 'used' THEN
    RAISE EXCEPTION 'tracking % is already used', OLD.id;
  END IF;
  RETURN NEW;
END
$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_tracking_keep_used ON tracking`,
		`CREATE TRIGGER trg_tracking_keep_used BEFORE UPDATE ON tracking FOR EACH ROW EXECUTE FUNCTION tracking_keep_used()`,
		`
CREATE TABLE IF NOT EXISTS order_header (
  order_id BIGSERIAL PRIMARY KEY,
  tenant_id BIGINT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('pending', 'dispatch', 'done', 'cancel')),
  pay_status TEXT NOT NULL DEFAULT 'unpaid' CHECK (pay_status IN ('paid', 'unpaid')),
  courier_id BIGINT NULL,
  tracking_number TEXT NULL,
  cancellation_reason TEXT NULL,
  pay_by TEXT NULL,
  pay_date TIMESTAMPTZ NULL,
  slip TEXT NULL,
  next_delivery_check_at TIMESTAMPTZ NULL,
  delivery_check_fail_count INT NOT NULL DEFAULT 0,
  delivery_last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_header_tenant ON order_header(tenant_id, order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_header_tracking ON order_header(tracking_number)`,
		`CREATE INDEX IF NOT EXISTS idx_order_header_delivery_check ON order_header(next_delivery_check_at) WHERE status = 'dispatch'`,
		`
CREATE TABLE IF NOT EXISTS order_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES order_header(order_id) ON DELETE CASCADE,
  tenant_id BIGINT NOT NULL,
  status TEXT NOT NULL,
  pay_status TEXT NOT NULL DEFAULT 'unpaid',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(tenant_id, order_id)`,
		`
CREATE TABLE IF NOT EXISTS payments (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL UNIQUE REFERENCES order_header(order_id) ON DELETE CASCADE,
  tenant_id BIGINT NOT NULL,
  amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
  method TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS user_logs (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  tenant_id BIGINT NOT NULL,
  action_type TEXT NOT NULL,
  inquiry_id BIGINT NOT NULL DEFAULT 0,
  details TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_user_logs_order ON user_logs(tenant_id, inquiry_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
