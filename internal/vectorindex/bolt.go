package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const boltFileName = "index.db"

var (
	bucketMeta  = []byte("meta")
	bucketItems = []byte("items")
	keyMetric   = []byte("metric")
	keyDim      = []byte("dimension")
)

type storedItem struct {
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata"`
	Document string    `json:"document"`
}

type snapshot struct {
	metric Metric
	ids    []string
	items  []storedItem
}

// BoltIndex keeps every collection in a single bbolt file under a directory.
// A read-only index takes a shared file lock, so several server processes can
// read while no ingestion holds the write lock.
type BoltIndex struct {
	db *bbolt.DB

	mu        sync.RWMutex
	snapshots map[string]*snapshot
}

var _ Index = (*BoltIndex)(nil)

func OpenBolt(dir string, readOnly bool) (*BoltIndex, error) {
	path := filepath.Join(dir, boltFileName)
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open vector index failed: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector index dir failed: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open vector index failed: %w", err)
	}
	return &BoltIndex{db: db, snapshots: make(map[string]*snapshot)}, nil
}

func (b *BoltIndex) CreateCollection(_ context.Context, name string, metric Metric) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return err
	}

	defer b.invalidate(name)
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(name)) != nil {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return fmt.Errorf("drop collection failed: %w", err)
			}
		}
		root, err := tx.CreateBucket([]byte(name))
		if err != nil {
			return fmt.Errorf("create collection failed: %w", err)
		}
		meta, err := root.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		if _, err := root.CreateBucket(bucketItems); err != nil {
			return err
		}
		return meta.Put(keyMetric, []byte(metric))
	})
}

func (b *BoltIndex) DeleteCollection(_ context.Context, name string) error {
	defer b.invalidate(name)
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return &NotFoundError{Collection: name}
		}
		return tx.DeleteBucket([]byte(name))
	})
}

func (b *BoltIndex) Add(_ context.Context, collection string, ids []string, vectors [][]float32, metadatas []Metadata, documents []string) error {
	dim, err := validateBatch(ids, vectors, metadatas, documents)
	if err != nil {
		return err
	}

	defer b.invalidate(collection)
	return b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(collection))
		if root == nil {
			return &NotFoundError{Collection: collection}
		}
		meta := root.Bucket(bucketMeta)
		items := root.Bucket(bucketItems)

		if raw := meta.Get(keyDim); raw != nil {
			stored, err := strconv.Atoi(string(raw))
			if err != nil {
				return fmt.Errorf("read collection dimension failed: %w", err)
			}
			if stored != dim {
				return &ValidationError{
					Field:  "vector",
					Reason: fmt.Sprintf("dimension %d does not match collection dimension %d", dim, stored),
				}
			}
		} else if err := meta.Put(keyDim, []byte(strconv.Itoa(dim))); err != nil {
			return err
		}

		for i := range ids {
			data, err := json.Marshal(storedItem{Vector: vectors[i], Metadata: metadatas[i], Document: documents[i]})
			if err != nil {
				return fmt.Errorf("encode item %s failed: %w", ids[i], err)
			}
			if err := items.Put([]byte(ids[i]), data); err != nil {
				return fmt.Errorf("write item %s failed: %w", ids[i], err)
			}
		}
		return nil
	})
}

func (b *BoltIndex) Query(_ context.Context, collection string, vector []float32, topN int) ([]Result, error) {
	if err := validateQuery(vector, topN); err != nil {
		return nil, err
	}
	snap, err := b.load(collection)
	if err != nil {
		return nil, err
	}
	if len(snap.items) == 0 {
		return []Result{}, nil
	}
	if len(snap.items[0].Vector) != len(vector) {
		return nil, &ValidationError{
			Field:  "vector",
			Reason: fmt.Sprintf("query dimension %d does not match collection dimension %d", len(vector), len(snap.items[0].Vector)),
		}
	}

	results := make([]Result, len(snap.items))
	for i, item := range snap.items {
		results[i] = Result{
			ID:       snap.ids[i],
			Metadata: item.Metadata,
			Document: item.Document,
			Distance: snap.metric.Distance(vector, item.Vector),
		}
	}
	return SortResults(results, topN), nil
}

func (b *BoltIndex) Count(_ context.Context, collection string) (int, error) {
	count := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(collection))
		if root == nil {
			return &NotFoundError{Collection: collection}
		}
		count = root.Bucket(bucketItems).Stats().KeyN
		return nil
	})
	return count, err
}

func (b *BoltIndex) Close() error {
	return b.db.Close()
}

func (b *BoltIndex) invalidate(collection string) {
	b.mu.Lock()
	delete(b.snapshots, collection)
	b.mu.Unlock()
}

// load returns the decoded collection, reading it from disk on first use.
func (b *BoltIndex) load(collection string) (*snapshot, error) {
	b.mu.RLock()
	snap, ok := b.snapshots[collection]
	b.mu.RUnlock()
	if ok {
		return snap, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if snap, ok := b.snapshots[collection]; ok {
		return snap, nil
	}

	snap = &snapshot{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(collection))
		if root == nil {
			return &NotFoundError{Collection: collection}
		}
		snap.metric = Metric(root.Bucket(bucketMeta).Get(keyMetric))
		return root.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			var item storedItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode item %s failed: %w", k, err)
			}
			snap.ids = append(snap.ids, string(k))
			snap.items = append(snap.items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	b.snapshots[collection] = snap
	return snap, nil
}
