package pd

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"

	regionpkg "nyxstore/internal/region"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// regionMetadataStore persists everything PD needs to resume scheduling after
// a restart: region metadata, granted merges, merged-away sources and the id
// allocator.
type regionMetadataStore interface {
	Put(regionpkg.Region) error
	Delete(regionpkg.ID) error
	ForEach(func(regionpkg.Region) error) error

	PutMerge(mergeGrant) error
	DeleteMerge(from regionpkg.ID) error
	ForEachMerge(func(mergeGrant) error) error

	PutMergedAway(regionpkg.Region) error
	ForEachMergedAway(func(regionpkg.Region) error) error

	LoadNextID() (uint64, error)
	SaveNextID(uint64) error
	Close() error
}

type boltRegionStore struct {
	db *bolt.DB
}

const (
	boltRegionFileName = "pd.regions"
	nextIDKey          = "next_id"
)

var (
	regionsBucket    = []byte("regions")
	mergesBucket     = []byte("merges")
	mergedAwayBucket = []byte("merged_away")
	metaBucket       = []byte("meta")
)

func newBoltRegionStore(dir string) (*boltRegionStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("pd directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, boltRegionFileName), 0o600, &bolt.Options{Timeout: 0})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{regionsBucket, mergesBucket, mergedAwayBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltRegionStore{db: db}, nil
}

// idKey orders records by region id inside a bucket.
func idKey(id regionpkg.ID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

func (b *boltRegionStore) put(bucket []byte, id regionpkg.ID, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucket)
		if bkt == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		return bkt.Put(idKey(id), data)
	})
}

func (b *boltRegionStore) delete(bucket []byte, id regionpkg.ID) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucket)
		if bkt == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		return bkt.Delete(idKey(id))
	})
}

// scan decodes every value of bucket. Callbacks run inside the read
// transaction and must not write to the store.
func scan[T any](b *boltRegionStore, bucket []byte, fn func(T) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucket)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode %s record %x: %w", bucket, k, err)
			}
			return fn(item)
		})
	})
}

func (b *boltRegionStore) Put(region regionpkg.Region) error {
	return b.put(regionsBucket, region.ID, region)
}

func (b *boltRegionStore) Delete(id regionpkg.ID) error {
	return b.delete(regionsBucket, id)
}

func (b *boltRegionStore) ForEach(fn func(regionpkg.Region) error) error {
	return scan(b, regionsBucket, fn)
}

func (b *boltRegionStore) PutMerge(grant mergeGrant) error {
	return b.put(mergesBucket, grant.From, grant)
}

func (b *boltRegionStore) DeleteMerge(from regionpkg.ID) error {
	return b.delete(mergesBucket, from)
}

func (b *boltRegionStore) ForEachMerge(fn func(mergeGrant) error) error {
	return scan(b, mergesBucket, fn)
}

func (b *boltRegionStore) PutMergedAway(region regionpkg.Region) error {
	return b.put(mergedAwayBucket, region.ID, region)
}

func (b *boltRegionStore) ForEachMergedAway(fn func(regionpkg.Region) error) error {
	return scan(b, mergedAwayBucket, fn)
}

func (b *boltRegionStore) LoadNextID() (uint64, error) {
	var value uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metaBucket)
		if bkt == nil {
			return nil
		}
		if data := bkt.Get([]byte(nextIDKey)); len(data) == 8 {
			value = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return value, err
}

func (b *boltRegionStore) SaveNextID(id uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metaBucket)
		if bkt == nil {
			return fmt.Errorf("bucket %s missing", metaBucket)
		}
		return bkt.Put([]byte(nextIDKey), binary.BigEndian.AppendUint64(nil, id))
	})
}

func (b *boltRegionStore) Close() error {
	return b.db.Close()
}
