package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/metrics"
)

// Key prefixes for BadgerDB storage.
const (
	signatureKeyPrefix   = "sig:"
	opportunityKeyPrefix = "opp:"
	trendOppKeyPrefix    = "trend_opp:"
)

// BadgerStore persists to an embedded BadgerDB.
type BadgerStore struct {
	db   *badger.DB
	opts options
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens a database at path. An empty path opens an in-memory
// database, which is what tests use.
func OpenBadger(path string) (*badger.DB, error) {
	bopts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return db, nil
}

// NewBadgerStore wraps an open database. Close closes it.
func NewBadgerStore(db *badger.DB, opts ...Option) *BadgerStore {
	return &BadgerStore{db: db, opts: newOptions(opts)}
}

func signatureKey(id string) []byte   { return []byte(signatureKeyPrefix + id) }
func opportunityKey(id string) []byte { return []byte(opportunityKeyPrefix + id) }
func trendOppKey(trendID, oppID string) []byte {
	return []byte(trendOppKeyPrefix + trendID + ":" + oppID)
}

// getJSON decodes key into out; found is false when the key is absent.
func getJSON(txn *badger.Txn, key []byte, out any) (found bool, err error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func (s *BadgerStore) update(entity string, fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		metrics.RecordPersistenceConflict(entity)
		return conflict(entity, "", "concurrent transaction")
	}
	return err
}

// UpsertSignature implements Store.
func (s *BadgerStore) UpsertSignature(_ context.Context, sig model.TrendSignature) (model.TrendSignature, error) {
	var merged model.TrendSignature
	err := s.update(EntitySignature, func(txn *badger.Txn) error {
		var stored model.TrendSignature
		found, err := getJSON(txn, signatureKey(sig.TrendID), &stored)
		if err != nil {
			return err
		}
		merged = sig
		if found {
			merged = model.MergeSignature(stored, sig)
		}
		return setJSON(txn, signatureKey(sig.TrendID), merged)
	})
	if err != nil {
		return model.TrendSignature{}, err
	}
	return merged.Clone(), nil
}

// GetSignature implements Store.
func (s *BadgerStore) GetSignature(_ context.Context, trendID string) (model.TrendSignature, error) {
	var sig model.TrendSignature
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, signatureKey(trendID), &sig)
		if err == nil && !found {
			return notFound(EntitySignature, trendID)
		}
		return err
	})
	return sig, err
}

func (s *BadgerStore) scanSignatures(txn *badger.Txn, fn func(sig model.TrendSignature) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(signatureKeyPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var sig model.TrendSignature
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &sig)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		if err := fn(sig); err != nil {
			return err
		}
	}
	return nil
}

// ListActiveSignatures implements Store.
func (s *BadgerStore) ListActiveSignatures(_ context.Context, now time.Time) ([]model.TrendSignature, error) {
	var out []model.TrendSignature
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanSignatures(txn, func(sig model.TrendSignature) error {
			if sig.Status == model.SignatureActive && sig.PredictedPeakAt.After(now) {
				out = append(out, sig)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByVelocity(out)
	return out, nil
}

// TransitionSignature implements Store.
func (s *BadgerStore) TransitionSignature(_ context.Context, trendID string, from, to model.SignatureStatus) (model.TrendSignature, error) {
	var sig model.TrendSignature
	err := s.update(EntitySignature, func(txn *badger.Txn) error {
		found, err := getJSON(txn, signatureKey(trendID), &sig)
		if err != nil {
			return err
		}
		if !found {
			return notFound(EntitySignature, trendID)
		}
		if err := checkSignatureTransition(sig, from, to); err != nil {
			metrics.RecordPersistenceConflict(EntitySignature)
			return err
		}
		sig.Status = to
		sig.UpdatedAt = s.opts.now().UTC()
		return setJSON(txn, signatureKey(trendID), sig)
	})
	if err != nil {
		return model.TrendSignature{}, err
	}
	return sig, nil
}

// ExpireSignatures implements Store.
func (s *BadgerStore) ExpireSignatures(_ context.Context, now time.Time) ([]string, error) {
	var expired []string
	err := s.update(EntitySignature, func(txn *badger.Txn) error {
		var stale []model.TrendSignature
		if err := s.scanSignatures(txn, func(sig model.TrendSignature) error {
			if sig.Status == model.SignatureActive && !sig.PredictedPeakAt.After(now) {
				stale = append(stale, sig)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, sig := range stale {
			sig.Status = model.SignatureExpired
			sig.UpdatedAt = now.UTC()
			if err := setJSON(txn, signatureKey(sig.TrendID), sig); err != nil {
				return err
			}
			expired = append(expired, sig.TrendID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(expired)
	return expired, nil
}

// UpsertOpportunity implements Store.
func (s *BadgerStore) UpsertOpportunity(_ context.Context, opp model.Opportunity) (model.Opportunity, error) {
	var next model.Opportunity
	err := s.update(EntityOpportunity, func(txn *badger.Txn) error {
		var cur model.Opportunity
		found, err := getJSON(txn, opportunityKey(opp.OpportunityID), &cur)
		if err != nil {
			return err
		}
		var stored *model.Opportunity
		if found {
			stored = &cur
		}
		if err := checkOpportunityWrite(stored, opp); err != nil {
			metrics.RecordPersistenceConflict(EntityOpportunity)
			return err
		}
		next = nextOpportunity(stored, opp)
		if err := setJSON(txn, opportunityKey(opp.OpportunityID), next); err != nil {
			return err
		}
		return txn.Set(trendOppKey(opp.TrendID, opp.OpportunityID), []byte(opp.OpportunityID))
	})
	if err != nil {
		return model.Opportunity{}, err
	}
	return next, nil
}

// GetOpportunity implements Store.
func (s *BadgerStore) GetOpportunity(_ context.Context, opportunityID string) (model.Opportunity, error) {
	var opp model.Opportunity
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, opportunityKey(opportunityID), &opp)
		if err == nil && !found {
			return notFound(EntityOpportunity, opportunityID)
		}
		return err
	})
	return opp, err
}

// ListOpportunities implements Store.
func (s *BadgerStore) ListOpportunities(_ context.Context, trendID string) ([]model.Opportunity, error) {
	var out []model.Opportunity
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(trendOppKeyPrefix + trendID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var oppID string
			if err := it.Item().Value(func(val []byte) error {
				oppID = string(val)
				return nil
			}); err != nil {
				return err
			}
			var opp model.Opportunity
			found, err := getJSON(txn, opportunityKey(oppID), &opp)
			if err != nil {
				return err
			}
			if found {
				out = append(out, opp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OpportunityID < out[j].OpportunityID
	})
	return out, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func sortByVelocity(sigs []model.TrendSignature) {
	sort.Slice(sigs, func(i, j int) bool {
		return ranksBefore(toFixedPoint(sigs[i].ViralVelocity), sigs[i].TrendID, toFixedPoint(sigs[j].ViralVelocity), sigs[j].TrendID)
	})
}
