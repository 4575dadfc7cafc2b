package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var ErrRecordNotFound = errors.New("catalog record not found")

var archivesBucket = []byte("archives")

// Record describes one verified archive.
type Record struct {
	Symbol      string    `json:"symbol"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"content_hash"`
	Rows        int       `json:"rows"`
	VerifiedAt  time.Time `json:"verified_at"`
}

func (r Record) Key() string {
	return r.Symbol + "/" + r.Filename
}

// Catalog is a durable index of verified archives, keyed by
// <symbol>/<filename>, used to spot re-verified files and duplicated
// content across differently named archives.
type Catalog struct {
	db *bbolt.DB
}

func NewCatalog(path string) (*Catalog, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open catalog: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(archivesBucket)

		return err
	})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot init catalog: %w", err)
	}

	return &Catalog{db: db}, nil
}

func (c *Catalog) Put(record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cannot encode record: %w", err)
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(archivesBucket).Put([]byte(record.Key()), data)
	})
	if err != nil {
		return fmt.Errorf("cannot store record: %w", err)
	}

	return nil
}

func (c *Catalog) Get(symbol, filename string) (Record, error) {
	var record Record

	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(archivesBucket).Get([]byte(Record{Symbol: symbol, Filename: filename}.Key()))
		if data == nil {
			return ErrRecordNotFound
		}

		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return record, err
	}

	return record, nil
}

// FindByContentHash returns every record whose extracted table hashed to
// contentHash, in bucket key order.
func (c *Catalog) FindByContentHash(contentHash string) ([]Record, error) {
	var records []Record

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(archivesBucket).ForEach(func(_, data []byte) error {
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}

			if record.ContentHash == contentHash {
				records = append(records, record)
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cannot scan catalog: %w", err)
	}

	return records, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
