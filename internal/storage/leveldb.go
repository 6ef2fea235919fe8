package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBHistory 本地历史存储
// key: h/<owner>/<chainId>/<timestamp>/<txHash>/<sa>，按时间有序
type LevelDBHistory struct {
	db *leveldb.DB
}

var _ History = (*LevelDBHistory)(nil)

// OpenLevelDBHistory 打开本地数据库
func OpenLevelDBHistory(path string) (*LevelDBHistory, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb at %s", path)
	}
	return NewLevelDBHistory(db), nil
}

func NewLevelDBHistory(db *leveldb.DB) *LevelDBHistory {
	return &LevelDBHistory{db: db}
}

func historyPrefix(f Filter) []byte {
	return []byte(fmt.Sprintf("h/%s/%020d/", f.Owner.Hex(), f.ChainID))
}

func historyKey(r *Record) []byte {
	return []byte(fmt.Sprintf("h/%s/%020d/%020d/%s/%s", r.Owner.Hex(), r.ChainID, r.Timestamp, r.TxHash.Hex(), r.StealthAddress.Hex()))
}

// Save 写入记录，相同交易与隐身地址的记录会被覆盖
func (h *LevelDBHistory) Save(ctx context.Context, records ...*Record) error {
	batch := new(leveldb.Batch)
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "failed to encode history record")
		}
		batch.Put(historyKey(r), raw)
	}
	if err := h.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "failed to write history records")
	}
	return nil
}

func (h *LevelDBHistory) Query(ctx context.Context, f Filter) ([]*Record, int, error) {
	offset, limit := f.bounds()
	iter := h.db.NewIterator(util.BytesPrefix(historyPrefix(f)), nil)
	defer iter.Release()

	next := iter.Prev
	start := iter.Last
	if f.Ascending {
		next = iter.Next
		start = iter.First
	}

	var (
		out   []*Record
		total int
	)
	for ok := start(); ok; ok = next() {
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, 0, errors.Wrapf(err, "failed to decode history record %s", iter.Key())
		}
		if !f.matches(&r) {
			continue
		}
		if total >= offset && len(out) < limit {
			out = append(out, &r)
		}
		total++
	}
	if err := iter.Error(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to iterate history")
	}
	return out, total, nil
}

func (h *LevelDBHistory) Close() error {
	return h.db.Close()
}
