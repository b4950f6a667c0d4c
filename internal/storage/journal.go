package storage

import (
	"encoding/json"
	"kimchi_arb/internal/core"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultJournalDir = "./wal/trades"
	segmentLimit      = 1000

	tradeKeyPrefix = "trade_"
)

// Journal is the append-only trade log on a gowal write-ahead log
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewJournal opens the journal in dir, replaying existing segments.
// Segments are never pruned.
func NewJournal(dir string) (*Journal, error) {
	return newJournal(dir, segmentLimit)
}

func newJournal(dir string, segmentThreshold int) (*Journal, error) {
	if dir == "" {
		dir = DefaultJournalDir
	}

	// leaving MaxSegments unset keeps every segment
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "trade_",
		SegmentThreshold: segmentThreshold,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init trade journal")
	}
	return &Journal{wal: wal}, nil
}

// Append writes one record at the next index
func (j *Journal) Append(rec core.TradeRecord) error {
	if j == nil || j.wal == nil {
		return errors.New("trade journal is not initialized")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal trade record")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	next := j.wal.CurrentIndex() + 1
	return errors.Wrap(j.wal.Write(next, tradeKeyPrefix+rec.ID, payload), "append trade record")
}

// Since returns every record with a timestamp at or after from, oldest
// first. A record that fails its checksum aborts the read.
func (j *Journal) Since(from time.Time) ([]core.TradeRecord, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("trade journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	var out []core.TradeRecord
	for idx := uint64(1); idx <= current; idx++ {
		_, payload, err := j.wal.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "read trade record %d", idx)
		}
		if payload == nil {
			// index never written
			continue
		}
		var rec core.TradeRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode trade record %d", idx)
		}
		if !rec.Timestamp.Before(from) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CurrentIndex returns the latest index written
func (j *Journal) CurrentIndex() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.wal.CurrentIndex()
}

func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return errors.New("trade journal is not initialized")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}

// MemoryJournal keeps trade records in memory
type MemoryJournal struct {
	records []core.TradeRecord
	mu      sync.RWMutex
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(rec core.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *MemoryJournal) Since(from time.Time) ([]core.TradeRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []core.TradeRecord
	for _, rec := range j.records {
		if !rec.Timestamp.Before(from) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Summarize folds records into per-layer and total stats
func Summarize(records []core.TradeRecord) (core.PnLStats, map[core.Layer]core.PnLStats) {
	var total core.PnLStats
	layers := make(map[core.Layer]core.PnLStats)
	for _, rec := range records {
		total.Add(rec.NetPnL, rec.Fee)
		s := layers[rec.Layer]
		s.Add(rec.NetPnL, rec.Fee)
		layers[rec.Layer] = s
	}
	return total, layers
}

// Today returns the stats of records since the start of now's UTC day
func Today(j core.ITradeJournal, now time.Time) (core.PnLStats, map[core.Layer]core.PnLStats, error) {
	records, err := j.Since(now.UTC().Truncate(24 * time.Hour))
	if err != nil {
		return core.PnLStats{}, nil, err
	}
	total, layers := Summarize(records)
	return total, layers, nil
}
