package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"donatebot/internal/model"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrLedgerWrite = errors.New("ledger write failed")

type ledgerCodec interface {
	Marshal(l model.Ledger) ([]byte, error)
	Unmarshal(data []byte) (model.Ledger, error)
}

type jsonCodec struct{}

func (jsonCodec) Marshal(l model.Ledger) ([]byte, error) {
	return json.MarshalIndent(l, "", "    ")
}

func (jsonCodec) Unmarshal(data []byte) (model.Ledger, error) {
	var l model.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}

type yamlCodec struct{}

func (yamlCodec) Marshal(l model.Ledger) ([]byte, error) {
	return yaml.Marshal(map[string]int64(l))
}

func (yamlCodec) Unmarshal(data []byte) (model.Ledger, error) {
	var l model.Ledger
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}

func codecFor(path string) ledgerCodec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}
	default:
		return jsonCodec{}
	}
}

// LedgerStore persists the ledger as a single file. Every access goes
// through mu, and every write replaces the whole file by rename so readers
// never see a partial document.
type LedgerStore struct {
	mu     sync.Mutex
	path   string
	codec  ledgerCodec
	logger *zap.Logger
}

func NewLedgerStore(path string, logger *zap.Logger) *LedgerStore {
	return &LedgerStore{
		path:   path,
		codec:  codecFor(path),
		logger: logger.Named("ledger"),
	}
}

func (s *LedgerStore) Path() string {
	return s.path
}

// Load returns the persisted ledger. A missing, unreadable or malformed file
// yields an empty ledger.
func (s *LedgerStore) Load() model.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Save replaces the persisted ledger with l.
func (s *LedgerStore) Save(l model.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(l)
}

// Lookup resolves a transaction id against the persisted ledger.
func (s *LedgerStore) Lookup(transactionID string) (int64, bool) {
	return s.Load().Lookup(transactionID)
}

// Update runs a load-modify-save cycle under the store lock. Nothing is
// written when fn returns an error.
func (s *LedgerStore) Update(fn func(l model.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.read()
	if err := fn(l); err != nil {
		return err
	}
	return s.write(l)
}

func (s *LedgerStore) read() model.Ledger {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("ledger unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return model.NewLedger()
	}

	l, err := s.codec.Unmarshal(data)
	if err != nil {
		s.logger.Warn("ledger malformed, starting empty", zap.String("path", s.path), zap.Error(err))
		s.quarantine()
		return model.NewLedger()
	}
	if l == nil {
		return model.NewLedger()
	}
	return l
}

// quarantine moves a malformed ledger aside as <path>.corrupt-<unix> so the
// next write does not destroy it.
func (s *LedgerStore) quarantine() {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, aside); err != nil {
		s.logger.Error("could not move malformed ledger aside", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Warn("malformed ledger moved aside", zap.String("path", s.path), zap.String("moved_to", aside))
}

func (s *LedgerStore) write(l model.Ledger) error {
	if l == nil {
		l = model.NewLedger()
	}
	data, err := s.codec.Marshal(l)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrLedgerWrite, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	committed = true
	return nil
}
