// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the Klingon node.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "klingon.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- =========================================================================
	-- Wallet UTXO Tracking (for multi-address spending)
	-- =========================================================================

	-- Wallet addresses table (tracks all derived addresses)
	CREATE TABLE IF NOT EXISTS wallet_addresses (
		address TEXT PRIMARY KEY,
		chain TEXT NOT NULL,

		-- Derivation path components (BIP44: m/purpose'/coin'/account'/change/index)
		account INTEGER NOT NULL DEFAULT 0,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,

		-- Address type (p2wpkh, p2tr, p2pkh)
		address_type TEXT NOT NULL DEFAULT 'p2wpkh',

		-- Usage tracking
		tx_count INTEGER DEFAULT 0,
		total_received INTEGER DEFAULT 0,
		total_sent INTEGER DEFAULT 0,

		-- Timestamps
		created_at INTEGER NOT NULL,
		first_seen_at INTEGER,
		last_seen_at INTEGER,

		UNIQUE(chain, account, change, address_index)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_addresses_chain ON wallet_addresses(chain);
	CREATE INDEX IF NOT EXISTS idx_wallet_addresses_path ON wallet_addresses(account, change, address_index);

	-- UTXOs table (all unspent outputs across all addresses)
	CREATE TABLE IF NOT EXISTS wallet_utxos (
		txid TEXT NOT NULL,
		vout INTEGER NOT NULL,

		-- Amount in smallest units (satoshis, litoshis, etc.)
		amount INTEGER NOT NULL,

		-- Which address owns this UTXO
		address TEXT NOT NULL,
		chain TEXT NOT NULL,

		-- Derivation path (for key derivation during signing)
		account INTEGER NOT NULL DEFAULT 0,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,

		-- Script info
		script_pubkey TEXT,
		address_type TEXT NOT NULL DEFAULT 'p2wpkh',

		-- Status: 'unconfirmed', 'confirmed', 'pending_spend', 'spent'
		status TEXT NOT NULL DEFAULT 'unconfirmed',

		-- Confirmation tracking
		block_height INTEGER,
		block_hash TEXT,
		confirmations INTEGER DEFAULT 0,

		-- Spending info (if spent)
		spent_txid TEXT,
		spent_at INTEGER,

		-- Timestamps
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		PRIMARY KEY (txid, vout),
		FOREIGN KEY (address) REFERENCES wallet_addresses(address)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_address ON wallet_utxos(address);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_chain ON wallet_utxos(chain);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_status ON wallet_utxos(status);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_chain_status ON wallet_utxos(chain, status);

	-- Wallet sync state (tracks sync progress per chain)
	CREATE TABLE IF NOT EXISTS wallet_sync_state (
		chain TEXT PRIMARY KEY,

		-- Last scanned indices (gap limit tracking)
		last_external_index INTEGER DEFAULT 0,
		last_change_index INTEGER DEFAULT 0,

		-- Gap limit used
		gap_limit INTEGER DEFAULT 20,

		-- Sync status
		last_sync_at INTEGER,
		last_block_height INTEGER,
		sync_status TEXT DEFAULT 'pending'
	);

	-- =========================================================================
	-- Escrow deals (custodial settlement coordinator)
	-- =========================================================================

	-- Deals table: root entity for an escrow-and-settlement coordination.
	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,

		-- Side A
		a_chain TEXT NOT NULL,
		a_asset TEXT NOT NULL,
		a_amount TEXT NOT NULL,
		a_payback_address TEXT NOT NULL,
		a_recipient_address TEXT NOT NULL,
		a_email TEXT,
		a_escrow_chain TEXT,
		a_escrow_address TEXT,
		a_escrow_hd_path TEXT,
		a_commission_plan TEXT,
		a_link_token TEXT UNIQUE,

		-- Side B
		b_chain TEXT NOT NULL,
		b_asset TEXT NOT NULL,
		b_amount TEXT NOT NULL,
		b_payback_address TEXT NOT NULL,
		b_recipient_address TEXT NOT NULL,
		b_email TEXT,
		b_escrow_chain TEXT,
		b_escrow_address TEXT,
		b_escrow_hd_path TEXT,
		b_commission_plan TEXT,
		b_link_token TEXT UNIQUE,

		-- Stage machine
		stage TEXT NOT NULL DEFAULT 'CREATED',
		timeout_seconds INTEGER NOT NULL,
		expires_at INTEGER,

		-- Locks (per side, set once and monotonic within a WAITING stage)
		a_trade_locked_at INTEGER,
		a_commission_locked_at INTEGER,
		b_trade_locked_at INTEGER,
		b_commission_locked_at INTEGER,

		-- Surfaced operator-visible error, if any (SWAP never silently reverts)
		surfaced_error TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		closed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
	CREATE INDEX IF NOT EXISTS idx_deals_expires ON deals(expires_at);
	CREATE INDEX IF NOT EXISTS idx_deals_closed ON deals(closed_at);

	-- Escrow deposits observed by the deposit tracker.
	CREATE TABLE IF NOT EXISTS escrow_deposits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deal_id TEXT NOT NULL,
		side TEXT NOT NULL,              -- 'A' or 'B'
		chain TEXT NOT NULL,
		escrow_address TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		txid TEXT NOT NULL,
		output_index INTEGER NOT NULL DEFAULT 0,
		block_height INTEGER NOT NULL DEFAULT 0,
		block_time INTEGER NOT NULL DEFAULT 0,
		confirmations INTEGER NOT NULL DEFAULT 0,
		missed_polls INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		UNIQUE(deal_id, txid, output_index),
		FOREIGN KEY (deal_id) REFERENCES deals(id)
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_deal ON escrow_deposits(deal_id);
	CREATE INDEX IF NOT EXISTS idx_deposits_deal_side ON escrow_deposits(deal_id, side);

	-- Planned/in-flight outgoing transfers.
	CREATE TABLE IF NOT EXISTS queue_items (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		source_address TEXT NOT NULL,
		destination_address TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		purpose TEXT NOT NULL,
		phase INTEGER,                   -- 1=SWAP, 2=COMMISSION, 3=REFUND; NULL if phaseless
		seq INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',

		-- Submitted-tx record
		txid TEXT,
		submitted_at INTEGER,
		nonce_or_inputs TEXT,
		confirmations INTEGER NOT NULL DEFAULT 0,
		required_confirms INTEGER NOT NULL DEFAULT 0,

		-- Recovery bookkeeping
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_gas_price TEXT,
		original_nonce TEXT,
		last_attempt_at INTEGER,
		failure_reason TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		UNIQUE(deal_id, source_address, seq),
		FOREIGN KEY (deal_id) REFERENCES deals(id)
	);

	CREATE INDEX IF NOT EXISTS idx_queue_deal ON queue_items(deal_id);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status);
	CREATE INDEX IF NOT EXISTS idx_queue_source_seq ON queue_items(deal_id, source_address, seq);

	-- Per-(chain, address) nonce/UTXO bookkeeping for the queue processor.
	CREATE TABLE IF NOT EXISTS account_state (
		chain TEXT NOT NULL,
		address TEXT NOT NULL,
		last_used_nonce INTEGER NOT NULL DEFAULT -1,
		updated_at INTEGER NOT NULL,

		PRIMARY KEY (chain, address)
	);

	-- One-writer-per-deal leases for horizontal scaling (§5).
	CREATE TABLE IF NOT EXISTS leases (
		deal_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		lease_until INTEGER NOT NULL,

		FOREIGN KEY (deal_id) REFERENCES deals(id)
	);

	CREATE INDEX IF NOT EXISTS idx_leases_until ON leases(lease_until);

	-- Append-only per-deal audit log.
	CREATE TABLE IF NOT EXISTS deal_events (
		deal_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL,

		PRIMARY KEY (deal_id, seq),
		FOREIGN KEY (deal_id) REFERENCES deals(id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
