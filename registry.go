//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"context"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BourgeoisBear/range2cidr"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

//////////////////////////////////////////////////////////////////////////
// backend record model
//
// one record per registered object, held read-only by the core for
// the duration of a request

type RegistryRecord struct {
	Class string `json:"-"`

	Handle  string   `json:"handle"`
	Name    string   `json:"name,omitempty"`
	Status  []string `json:"status,omitempty"`
	Country string   `json:"country,omitempty"`
	Type    string   `json:"type,omitempty"`
	Port43  string   `json:"port43,omitempty"`
	Remarks []string `json:"remarks,omitempty"`

	Events   []RegistryEvent  `json:"events,omitempty"`
	Entities []RegistryEntity `json:"entities,omitempty"`

	// domain records
	Nameservers      []RegistryNameserver `json:"nameservers,omitempty"`
	DelegationSigned bool                 `json:"delegationSigned,omitempty"`

	// ip records, either a prefix or a start/end range
	Prefix       string `json:"prefix,omitempty"`
	StartAddress string `json:"startAddress,omitempty"`
	EndAddress   string `json:"endAddress,omitempty"`
	ParentHandle string `json:"parentHandle,omitempty"`

	// autnum records
	StartAutnum uint32 `json:"startAutnum,omitempty"`
	EndAutnum   uint32 `json:"endAutnum,omitempty"`
}

type RegistryEvent struct {
	Action string    `json:"action"`
	Actor  string    `json:"actor,omitempty"`
	Date   time.Time `json:"date"`
}

type RegistryNameserver struct {
	Name string   `json:"name"`
	V4   []string `json:"v4,omitempty"`
	V6   []string `json:"v6,omitempty"`
}

type RegistryEntity struct {
	Handle   string           `json:"handle,omitempty"`
	Name     string           `json:"name,omitempty"`
	Roles    []string         `json:"roles"`
	Email    string           `json:"email,omitempty"`
	Phone    string           `json:"phone,omitempty"`
	Address  []string         `json:"address,omitempty"`
	IANAID   string           `json:"ianaId,omitempty"`
	Entities []RegistryEntity `json:"entities,omitempty"`
}

//////////////////////////////////////////////////////////////////////////
// lookup interface
//
// the storage engine behind it is substitutable, the server ships an
// in-memory store and a bolt backed store

var ErrNotFound = errors.New("record not found")

type RegistryStore interface {
	// exact match on the normalized identifier
	Lookup(ctx context.Context, class, id string) (*RegistryRecord, error)

	// longest prefix match for ip queries
	LookupNetwork(ctx context.Context, query netip.Prefix) (*RegistryRecord, error)

	// ordered pattern search, truncated at limit; the second return
	// reports whether truncation occurred
	Search(ctx context.Context, class, pattern string, limit int) ([]*RegistryRecord, bool, error)

	// object classes this store holds records for
	Classes() []string
}

//////////////////////////////////////////////////////////////////////////
// record keys and prefixes

// the per-class data files expected in the registry data directory
var recordClasses = []string{
	ClassDomain, ClassNameserver, ClassEntity, ClassAutnum, ClassIP,
}

// derive the normalized store key for a record
func recordKey(class string, record *RegistryRecord) (string, error) {

	switch class {

	case ClassDomain, ClassNameserver:
		return ValidateDomainName(record.Name)

	case ClassEntity:
		return ValidateHandle(record.Handle)

	case ClassAutnum:
		if record.EndAutnum < record.StartAutnum {
			return "", errors.Errorf("inverted AS range %d-%d",
				record.StartAutnum, record.EndAutnum)
		}
		return strconv.FormatUint(uint64(record.StartAutnum), 10), nil

	case ClassIP:
		prefixes, err := recordPrefixes(record)
		if err != nil {
			return "", err
		}
		return prefixes[0].String(), nil
	}

	return "", errors.Errorf("unknown record class %q", class)
}

// resolve the covered prefixes of an ip record; ranges that do not
// align to a CIDR boundary deaggregate to multiple prefixes
func recordPrefixes(record *RegistryRecord) ([]netip.Prefix, error) {

	if record.Prefix != "" {
		prefix, err := netip.ParsePrefix(record.Prefix)
		if err != nil {
			return nil, errors.Wrapf(err, "record %q", record.Handle)
		}
		return []netip.Prefix{prefix.Masked()}, nil
	}

	start, err := netip.ParseAddr(record.StartAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "record %q start address", record.Handle)
	}
	end, err := netip.ParseAddr(record.EndAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "record %q end address", record.Handle)
	}

	prefixes, err := range2cidr.Deaggregate(start, end)
	if err != nil {
		return nil, errors.Wrapf(err, "record %q deaggregation", record.Handle)
	}

	return prefixes, nil
}

//////////////////////////////////////////////////////////////////////////
// shared directory loader
//
// one JSON array of records per class file; records that fail key
// normalization are dropped with a log, not fatal

func loadRecordDirectory(dir string) (map[string]map[string]*RegistryRecord, error) {

	loaded := make(map[string]map[string]*RegistryRecord)

	for _, class := range recordClasses {
		path := filepath.Join(dir, class+".json")

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "reading %s records", class)
		}

		var records []*RegistryRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, errors.Wrapf(err, "parsing %s records", class)
		}

		objects := make(map[string]*RegistryRecord, len(records))
		for _, record := range records {
			record.Class = class

			key, err := recordKey(class, record)
			if err != nil {
				log.WithFields(log.Fields{
					"class":  class,
					"handle": record.Handle,
					"error":  err,
				}).Error("Record failed validation")
				continue
			}

			objects[key] = record
		}

		loaded[class] = objects

		log.WithFields(log.Fields{
			"class": class,
			"path":  path,
			"count": len(objects),
		}).Debug("Loaded registry records")
	}

	return loaded, nil
}

//////////////////////////////////////////////////////////////////////////
// search pattern matching
//
// RFC 9082 partial matching: a single trailing '*' matches any
// suffix, anything else is an exact comparison

func matchPattern(key, pattern string) bool {

	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, pattern[:len(pattern)-1])
	}
	return key == pattern
}

//////////////////////////////////////////////////////////////////////////
// in-memory store

type netRecord struct {
	prefix netip.Prefix
	record *RegistryRecord
}

type MemStore struct {
	objects  map[string]map[string]*RegistryRecord
	networks []netRecord
}

// load an in-memory store from a registry data directory
func NewMemStore(dir string) (*MemStore, error) {

	loaded, err := loadRecordDirectory(dir)
	if err != nil {
		return nil, err
	}

	store := &MemStore{objects: loaded}

	for _, record := range loaded[ClassIP] {
		prefixes, err := recordPrefixes(record)
		if err != nil {
			// the key derivation already parsed them
			continue
		}
		for _, prefix := range prefixes {
			store.networks = append(store.networks,
				netRecord{prefix: prefix, record: record})
		}
	}

	return store, nil
}

func (s *MemStore) Lookup(ctx context.Context, class, id string) (*RegistryRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if record := s.objects[class][id]; record != nil {
		return record, nil
	}

	// an autnum query matches any record whose range contains it
	if class == ClassAutnum {
		if asn, err := strconv.ParseUint(id, 10, 32); err == nil {
			for _, record := range s.objects[ClassAutnum] {
				if uint32(asn) >= record.StartAutnum &&
					uint32(asn) <= record.EndAutnum {
					return record, nil
				}
			}
		}
	}

	return nil, ErrNotFound
}

func (s *MemStore) LookupNetwork(ctx context.Context, query netip.Prefix) (*RegistryRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := -1
	for ix, entry := range s.networks {
		if entry.prefix.Addr().Is6() != query.Addr().Is6() {
			continue
		}
		if !entry.prefix.Contains(query.Addr()) ||
			entry.prefix.Bits() > query.Bits() {
			continue
		}
		if best < 0 || entry.prefix.Bits() > s.networks[best].prefix.Bits() {
			best = ix
		}
	}

	if best < 0 {
		return nil, ErrNotFound
	}
	return s.networks[best].record, nil
}

func (s *MemStore) Search(ctx context.Context, class, pattern string,
	limit int) ([]*RegistryRecord, bool, error) {

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	objects := s.objects[class]

	// stable result order
	keys := make([]string, 0, len(objects))
	for key := range objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var results []*RegistryRecord
	truncated := false

	for _, key := range keys {
		if !matchPattern(key, pattern) {
			continue
		}
		if limit > 0 && len(results) >= limit {
			truncated = true
			break
		}
		results = append(results, objects[key])
	}

	return results, truncated, nil
}

func (s *MemStore) Classes() []string {

	classes := make([]string, 0, len(s.objects))
	for class, objects := range s.objects {
		if len(objects) > 0 {
			classes = append(classes, class)
		}
	}
	sort.Strings(classes)

	return classes
}

//////////////////////////////////////////////////////////////////////////
// bolt backed store
//
// one bucket per object class, key is the normalized identifier,
// value is the JSON encoded record

type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {

	db, err := bbolt.Open(path, 0664, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening record store")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, class := range recordClasses {
			if _, err := tx.CreateBucketIfNotExists([]byte(class)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating record buckets")
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// load a registry data directory in to the store, replacing existing
// records with the same key
func (s *BoltStore) ImportDirectory(dir string) error {

	loaded, err := loadRecordDirectory(dir)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for class, objects := range loaded {
			bucket := tx.Bucket([]byte(class))

			for key, record := range objects {
				data, err := json.Marshal(record)
				if err != nil {
					return errors.Wrapf(err, "encoding %s/%s", class, key)
				}
				if err := bucket.Put([]byte(key), data); err != nil {
					return errors.Wrapf(err, "storing %s/%s", class, key)
				}
			}
		}
		return nil
	})
}

func decodeRecord(class string, data []byte) (*RegistryRecord, error) {

	var record RegistryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(err, "decoding %s record", class)
	}
	record.Class = class

	return &record, nil
}

func (s *BoltStore) Lookup(ctx context.Context, class, id string) (*RegistryRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *RegistryRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(class))
		if bucket == nil {
			return ErrNotFound
		}

		if data := bucket.Get([]byte(id)); data != nil {
			decoded, err := decodeRecord(class, data)
			if err != nil {
				return err
			}
			record = decoded
			return nil
		}

		// autnum range containment
		if class == ClassAutnum {
			asn, err := strconv.ParseUint(id, 10, 32)
			if err != nil {
				return ErrNotFound
			}
			cursor := bucket.Cursor()
			for key, data := cursor.First(); key != nil; key, data = cursor.Next() {
				decoded, err := decodeRecord(class, data)
				if err != nil {
					return err
				}
				if uint32(asn) >= decoded.StartAutnum &&
					uint32(asn) <= decoded.EndAutnum {
					record = decoded
					return nil
				}
			}
		}

		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (s *BoltStore) LookupNetwork(ctx context.Context, query netip.Prefix) (*RegistryRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *RegistryRecord
	bestBits := -1

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ClassIP))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for key, data := cursor.First(); key != nil; key, data = cursor.Next() {
			decoded, err := decodeRecord(ClassIP, data)
			if err != nil {
				return err
			}

			prefixes, err := recordPrefixes(decoded)
			if err != nil {
				continue
			}

			for _, prefix := range prefixes {
				if prefix.Addr().Is6() != query.Addr().Is6() {
					continue
				}
				if !prefix.Contains(query.Addr()) ||
					prefix.Bits() > query.Bits() {
					continue
				}
				if prefix.Bits() > bestBits {
					bestBits = prefix.Bits()
					record = decoded
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *BoltStore) Search(ctx context.Context, class, pattern string,
	limit int) ([]*RegistryRecord, bool, error) {

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var results []*RegistryRecord
	truncated := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(class))
		if bucket == nil {
			return nil
		}

		// keys are byte ordered so results come back sorted
		cursor := bucket.Cursor()
		for key, data := cursor.First(); key != nil; key, data = cursor.Next() {
			if !matchPattern(string(key), pattern) {
				continue
			}
			if limit > 0 && len(results) >= limit {
				truncated = true
				return nil
			}

			decoded, err := decodeRecord(class, data)
			if err != nil {
				return err
			}
			results = append(results, decoded)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return results, truncated, nil
}

func (s *BoltStore) Classes() []string {

	var classes []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, class := range recordClasses {
			bucket := tx.Bucket([]byte(class))
			if bucket != nil && bucket.Stats().KeyN > 0 {
				classes = append(classes, class)
			}
		}
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Failed to scan record buckets")
	}

	return classes
}

//////////////////////////////////////////////////////////////////////////
// end of code
