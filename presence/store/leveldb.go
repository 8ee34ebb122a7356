package store

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

// Registrations live under this prefix, followed by the username.
const keyPrefixUser = "USR"

// LevelDB is the persistent registration store. Records are CBOR-encoded.
type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

var _ Store = (*LevelDB)(nil)

func userKey(username string) []byte {
	return append([]byte(keyPrefixUser), username...)
}

// OpenLevelDB opens or creates the store at path, recovering from a corrupted
// database if needed.
func OpenLevelDB(path string) (*LevelDB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	db, err := leveldb.OpenFile(path, opts)
	if lderrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	log.Infof("store: opened LevelDB at %s", path)
	return &LevelDB{path: path, db: db}, nil
}

func (l *LevelDB) Put(username string, reg Registration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(&reg)
	if err != nil {
		return err
	}
	return l.db.Put(userKey(username), raw, nil)
}

func (l *LevelDB) Get(username string) (Registration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(userKey(username), nil)
	if err == leveldb.ErrNotFound {
		return Registration{}, ErrNotFound
	}
	if err != nil {
		return Registration{}, err
	}

	var reg Registration
	if err := cbor.Unmarshal(raw, &reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

func (l *LevelDB) Delete(username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Delete(userKey(username), nil)
}

func (l *LevelDB) All() (map[string]Registration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]Registration)

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixUser)), nil)
	defer iter.Release()

	for iter.Next() {
		username := string(iter.Key()[len(keyPrefixUser):])

		var reg Registration
		if err := cbor.Unmarshal(iter.Value(), &reg); err != nil {
			return nil, fmt.Errorf("store: corrupt record for %q: %w", username, err)
		}
		out[username] = reg
	}
	return out, iter.Error()
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
