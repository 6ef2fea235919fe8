package storage

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

const migrationTable = "sap_migrations"

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_sap_history",
			Up: []string{`
				CREATE TABLE IF NOT EXISTS sap_history (
					owner           TEXT    NOT NULL,
					chain_id        BIGINT  NOT NULL,
					stealth_address TEXT    NOT NULL,
					token           TEXT    NOT NULL,
					amount          NUMERIC NOT NULL,
					balance         NUMERIC,
					block           BIGINT  NOT NULL,
					ts              BIGINT  NOT NULL,
					tx_hash         TEXT    NOT NULL,
					sender          TEXT    NOT NULL,
					tag             TEXT    NOT NULL,
					PRIMARY KEY (owner, chain_id, tx_hash, stealth_address)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sap_history_ts ON sap_history (owner, chain_id, ts)`,
			},
			Down: []string{`DROP TABLE IF EXISTS sap_history`},
		},
	},
}

// PostgresHistory 关系型历史存储
type PostgresHistory struct {
	db *sql.DB
}

var _ History = (*PostgresHistory)(nil)

// OpenPostgresHistory 连接数据库并执行迁移
func OpenPostgresHistory(ctx context.Context, dsn string) (*PostgresHistory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	migrate.SetTable(migrationTable)
	n, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate history schema")
	}
	log.Debug().Int("applied", n).Msg("History schema migrated")
	return &PostgresHistory{db: db}, nil
}

// RegisterStats 导出连接池指标
func (p *PostgresHistory) RegisterStats(reg prometheus.Registerer) error {
	return errors.Wrap(reg.Register(sqlstats.NewStatsCollector("sap_history", p.db)), "failed to register sql stats")
}

func numeric(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func (h *PostgresHistory) Save(ctx context.Context, records ...*Record) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO sap_history (owner, chain_id, stealth_address, token, amount, balance, block, ts, tx_hash, sender, tag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner, chain_id, tx_hash, stealth_address) DO UPDATE SET
			balance = EXCLUDED.balance
	`
	for _, r := range records {
		amount := r.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		_, err := tx.ExecContext(ctx, query,
			r.Owner.Hex(), r.ChainID, r.StealthAddress.Hex(), r.Token.Hex(),
			amount.String(), numeric(r.Balance), r.Block, r.Timestamp,
			r.TxHash.Hex(), r.From.Hex(), string(r.Tag))
		if err != nil {
			return errors.Wrapf(err, "failed to save history record %s", r.TxHash.Hex())
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit history records")
}

func (h *PostgresHistory) Query(ctx context.Context, f Filter) ([]*Record, int, error) {
	offset, limit := f.bounds()
	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}

	var total int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sap_history WHERE owner = $1 AND chain_id = $2 AND ($3 = '' OR tag = $3)`,
		f.Owner.Hex(), f.ChainID, string(f.Tag)).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to count history")
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT owner, chain_id, stealth_address, token, amount::TEXT, balance::TEXT, block, ts, tx_hash, sender, tag
		FROM sap_history
		WHERE owner = $1 AND chain_id = $2 AND ($3 = '' OR tag = $3)
		ORDER BY ts `+order+`, tx_hash `+order+`
		LIMIT $4 OFFSET $5`,
		f.Owner.Hex(), f.ChainID, string(f.Tag), limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			r                        Record
			owner, sa, token, sender string
			txHash, amount, tag      string
			balance                  sql.NullString
		)
		if err := rows.Scan(&owner, &r.ChainID, &sa, &token, &amount, &balance, &r.Block, &r.Timestamp, &txHash, &sender, &tag); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan history record")
		}
		r.Owner = common.HexToAddress(owner)
		r.StealthAddress = common.HexToAddress(sa)
		r.Token = common.HexToAddress(token)
		r.TxHash = common.HexToHash(txHash)
		r.From = common.HexToAddress(sender)
		r.Tag = types.ChainTag(tag)
		r.Amount, _ = new(big.Int).SetString(amount, 10)
		if balance.Valid {
			r.Balance, _ = new(big.Int).SetString(balance.String, 10)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to iterate history")
	}
	return out, total, nil
}

func (h *PostgresHistory) Close() error {
	return h.db.Close()
}
