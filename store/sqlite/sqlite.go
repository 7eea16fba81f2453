/*
Package sqlite provides the SQLite-backed implementation of every storage
interface in the service.

INTERFACES IMPLEMENTED:
  ledger.Store:        point entry persistence (append-only + repair)
  ledger.BalanceStore: materialized balance cache (member_points)
  ledger.Mirror:       denormalized points copy on the member row
  loyalty.MemberStore, loyalty.OrderStore, loyalty.SettingStore
  payroll.Store, payroll.OrderTotals

IDEMPOTENCY ENFORCEMENT:
  point_entries.ref_key carries a UNIQUE constraint. Append performs a
  single INSERT; the constraint violation is mapped to
  ledger.ErrDuplicateRefKey and IS the duplicate-detection signal. There
  is no read-then-write window: concurrent duplicates resolve to one
  winner and one detectable conflict.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE runs against point_entries, with one deliberate
  exception: ReassignEntry rewrites member_id to repair a historical
  misattribution. Callers recompute both affected balances afterwards.

WAL MODE:
  SQLite is opened with WAL for better read concurrency and crash
  recovery. Use ":memory:" for tests.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/brightnest/loyalty-engine/ledger"
	"github.com/brightnest/loyalty-engine/loyalty"
	"github.com/brightnest/loyalty-engine/payroll"
)

// entryTimeFormat is fixed-width so ORDER BY created_at stays
// chronological under string comparison.
const entryTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path (":memory:" for tests).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Members (loyalty participants)
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		email TEXT,
		phone TEXT,
		name TEXT,
		points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_email ON members(email) WHERE email != '';
	CREATE INDEX IF NOT EXISTS idx_members_phone ON members(phone) WHERE phone != '';

	-- Point entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS point_entries (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT,
		order_id TEXT,
		ref_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_member
		ON point_entries(member_id, created_at);

	-- Materialized balance cache (projection of point_entries)
	CREATE TABLE IF NOT EXISTS member_points (
		member_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Orders
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_no TEXT NOT NULL UNIQUE,
		member_id TEXT,
		customer_email TEXT,
		staff_id TEXT,
		status TEXT NOT NULL DEFAULT 'created',
		items_json TEXT NOT NULL,
		points_deduct TEXT NOT NULL DEFAULT '0',
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_staff_completed
		ON orders(staff_id, status, completed_at);

	-- Global settings (admin-controlled)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Payroll (mutated in place, one row per staff+month)
	CREATE TABLE IF NOT EXISTS payroll_records (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		month TEXT NOT NULL,
		base TEXT NOT NULL DEFAULT '0',
		allowance TEXT NOT NULL DEFAULT '0',
		deduction TEXT NOT NULL DEFAULT '0',
		bonus TEXT NOT NULL DEFAULT '0',
		commission TEXT NOT NULL DEFAULT '0',
		net TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		UNIQUE(staff_id, month)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (ledger.Store interface)
// =============================================================================

// Append inserts a ledger entry. The UNIQUE(ref_key) violation maps to
// ledger.ErrDuplicateRefKey.
func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO point_entries (id, member_id, delta, reason, order_id, ref_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.MemberID,
		e.Delta,
		e.Reason,
		nullString(e.OrderID),
		e.RefKey,
		e.CreatedAt.UTC().Format(entryTimeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateRefKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// ByMember returns all entries for a member, oldest first.
func (s *Store) ByMember(ctx context.Context, memberID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, member_id, delta, reason, order_id, ref_key, created_at
		FROM point_entries
		WHERE member_id = ?
		ORDER BY created_at ASC, id ASC
	`
	return s.queryEntries(ctx, query, memberID)
}

// Recent returns the newest entries for a member, newest first.
func (s *Store) Recent(ctx context.Context, memberID string, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, member_id, delta, reason, order_id, ref_key, created_at
		FROM point_entries
		WHERE member_id = ?
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		return s.queryEntries(ctx, query+" LIMIT ?", memberID, limit)
	}
	return s.queryEntries(ctx, query, memberID)
}

// ByRefKey returns the entry holding the idempotency key, or nil.
func (s *Store) ByRefKey(ctx context.Context, refKey string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, member_id, delta, reason, order_id, ref_key, created_at
		FROM point_entries
		WHERE ref_key = ?
	`
	entries, err := s.queryEntries(ctx, query, refKey)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// ReassignEntry corrects the member attribution of an entry. Repair path
// only; the sole mutation ever applied to point_entries.
func (s *Store) ReassignEntry(ctx context.Context, entryID, newMemberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE point_entries SET member_id = ? WHERE id = ?",
		newMemberID, entryID,
	)
	if err != nil {
		return fmt.Errorf("failed to reassign entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entry %s not found", ledger.ErrLedgerWriteFailed, entryID)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			reason    sql.NullString
			orderID   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Delta, &reason, &orderID, &e.RefKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Reason = reason.String
		e.OrderID = orderID.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// BALANCE CACHE (ledger.BalanceStore) + MIRROR (ledger.Mirror)
// =============================================================================

// WriteBalance upserts the cached balance for a member.
func (s *Store) WriteBalance(ctx context.Context, memberID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO member_points (member_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			balance = excluded.balance,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, memberID, balance, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ReadBalance returns the cached balance and whether a cache row exists.
func (s *Store) ReadBalance(ctx context.Context, memberID string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balance int64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance FROM member_points WHERE member_id = ?", memberID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// MirrorPoints copies the balance onto the denormalized member field.
func (s *Store) MirrorPoints(ctx context.Context, memberID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE members SET points = ? WHERE id = ?", balance, memberID,
	)
	return err
}

// =============================================================================
// MEMBER STORE (loyalty.MemberStore interface)
// =============================================================================

// CreateMember inserts a member row.
func (s *Store) Create(ctx context.Context, m loyalty.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO members (id, code, email, phone, name, points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Code, m.Email, m.Phone, m.Name, m.Points,
		m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// Get retrieves a member by id, (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id string) (*loyalty.Member, error) {
	return s.memberBy(ctx, "id", id)
}

func (s *Store) GetByCode(ctx context.Context, code string) (*loyalty.Member, error) {
	return s.memberBy(ctx, "code", code)
}

func (s *Store) GetByPhone(ctx context.Context, phone string) (*loyalty.Member, error) {
	return s.memberBy(ctx, "phone", phone)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*loyalty.Member, error) {
	return s.memberBy(ctx, "email", email)
}

func (s *Store) memberBy(ctx context.Context, column, value string) (*loyalty.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(
		"SELECT id, code, email, phone, name, points, created_at FROM members WHERE %s = ?",
		column,
	)

	var (
		m            loyalty.Member
		email, phone sql.NullString
		name         sql.NullString
		createdAt    string
	)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&m.ID, &m.Code, &email, &phone, &name, &m.Points, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Email = email.String
	m.Phone = phone.String
	m.Name = name.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// CodeExists checks member-code uniqueness for the code generator.
func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM members WHERE code = ?", code,
	).Scan(&count)
	return count > 0, err
}

// List returns all members ordered by creation time.
func (s *Store) List(ctx context.Context) ([]loyalty.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, email, phone, name, points, created_at FROM members ORDER BY created_at ASC, code ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []loyalty.Member
	for rows.Next() {
		var (
			m                  loyalty.Member
			email, phone, name sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&m.ID, &m.Code, &email, &phone, &name, &m.Points, &createdAt); err != nil {
			return nil, err
		}
		m.Email = email.String
		m.Phone = phone.String
		m.Name = name.String
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// ORDER STORE (loyalty.OrderStore interface)
// =============================================================================

type orderItemJSON struct {
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
}

// CreateOrder inserts an order with its items serialized as JSON.
func (s *Store) CreateOrder(ctx context.Context, o loyalty.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]orderItemJSON, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemJSON{
			Name:      item.Name,
			UnitPrice: item.UnitPrice.String(),
			Quantity:  item.Quantity,
		}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return err
	}

	var completedAt *string
	if o.CompletedAt != nil {
		t := o.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &t
	}

	query := `
		INSERT INTO orders (id, order_no, member_id, customer_email, staff_id, status,
			items_json, points_deduct, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		o.ID, o.OrderNo, nullString(o.MemberID), nullString(o.CustomerEmail),
		nullString(o.StaffID), o.Status, string(itemsJSON), o.PointsDeduct.String(),
		completedAt, o.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by internal id, (nil, nil) if absent.
func (s *Store) GetOrder(ctx context.Context, id string) (*loyalty.Order, error) {
	return s.orderBy(ctx, "id", id)
}

// GetOrderByNo retrieves an order by its human-facing order number.
func (s *Store) GetOrderByNo(ctx context.Context, orderNo string) (*loyalty.Order, error) {
	return s.orderBy(ctx, "order_no", orderNo)
}

func (s *Store) orderBy(ctx context.Context, column, value string) (*loyalty.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT id, order_no, member_id, customer_email, staff_id, status,
		       items_json, points_deduct, completed_at, created_at
		FROM orders WHERE %s = ?`, column)

	orders, err := s.queryOrders(ctx, query, value)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// MarkOrderCompleted stamps the order completed (used by the demo loader
// and the order endpoints; the ledger never mutates orders).
func (s *Store) MarkOrderCompleted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = 'completed', completed_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id,
	)
	return err
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]loyalty.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []loyalty.Order
	for rows.Next() {
		var (
			o                               loyalty.Order
			memberID, email, staffID        sql.NullString
			itemsJSON, deduct, createdAtStr string
			completedAt                     sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.OrderNo, &memberID, &email, &staffID, &o.Status,
			&itemsJSON, &deduct, &completedAt, &createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.MemberID = memberID.String
		o.CustomerEmail = email.String
		o.StaffID = staffID.String
		o.PointsDeduct = mustDecimal(deduct)
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			o.CompletedAt = &t
		}

		var items []orderItemJSON
		if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
			return nil, fmt.Errorf("failed to decode order items: %w", err)
		}
		o.Items = make([]loyalty.OrderItem, len(items))
		for i, item := range items {
			o.Items[i] = loyalty.OrderItem{
				Name:      item.Name,
				UnitPrice: mustDecimal(item.UnitPrice),
				Quantity:  item.Quantity,
			}
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CompletedOrderNets returns the net amounts of a staff member's completed
// orders in a month (payroll.OrderTotals interface).
func (s *Store) CompletedOrderNets(ctx context.Context, staffID, month string) ([]decimal.Decimal, error) {
	query := `
		SELECT id, order_no, member_id, customer_email, staff_id, status,
		       items_json, points_deduct, completed_at, created_at
		FROM orders
		WHERE staff_id = ? AND status = 'completed' AND completed_at LIKE ?
	`
	s.mu.RLock()
	orders, err := s.queryOrders(ctx, query, staffID, month+"%")
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	nets := make([]decimal.Decimal, len(orders))
	for i, o := range orders {
		nets[i] = o.Net()
	}
	return nets, nil
}

// =============================================================================
// SETTINGS STORE (loyalty.SettingStore interface)
// =============================================================================

// GetSetting returns the value for a key, "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

// =============================================================================
// PAYROLL STORE (payroll.Store interface)
// =============================================================================

// GetRecord retrieves the payroll record for (staff, month), (nil, nil) if absent.
func (s *Store) GetRecord(ctx context.Context, staffID, month string) (*payroll.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, staff_id, month, base, allowance, deduction, bonus, commission, net, updated_at
		FROM payroll_records
		WHERE staff_id = ? AND month = ?
	`
	var (
		r                                               payroll.Record
		base, allowance, deduction, bonus, commission   string
		net, updatedAt                                  string
	)
	err := s.db.QueryRowContext(ctx, query, staffID, month).Scan(
		&r.ID, &r.StaffID, &r.Month,
		&base, &allowance, &deduction, &bonus, &commission, &net, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Base = mustDecimal(base)
	r.Allowance = mustDecimal(allowance)
	r.Deduction = mustDecimal(deduction)
	r.Bonus = mustDecimal(bonus)
	r.Commission = mustDecimal(commission)
	r.Net = mustDecimal(net)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// SaveRecord upserts a payroll record.
func (s *Store) SaveRecord(ctx context.Context, r payroll.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO payroll_records
			(id, staff_id, month, base, allowance, deduction, bonus, commission, net, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(staff_id, month) DO UPDATE SET
			base = excluded.base,
			allowance = excluded.allowance,
			deduction = excluded.deduction,
			bonus = excluded.bonus,
			commission = excluded.commission,
			net = excluded.net,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.StaffID, r.Month,
		r.Base.String(), r.Allowance.String(), r.Deduction.String(),
		r.Bonus.String(), r.Commission.String(), r.Net.String(),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"point_entries", "member_points", "orders", "members", "settings", "payroll_records"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// Interface conformance.
var (
	_ ledger.Store         = (*Store)(nil)
	_ ledger.BalanceStore  = (*Store)(nil)
	_ ledger.Mirror        = (*Store)(nil)
	_ loyalty.MemberStore  = (*Store)(nil)
	_ loyalty.OrderStore   = (*Store)(nil)
	_ loyalty.SettingStore = (*Store)(nil)
	_ payroll.Store        = (*Store)(nil)
	_ payroll.OrderTotals  = (*Store)(nil)
)
