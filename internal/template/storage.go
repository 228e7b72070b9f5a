package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketGroups    = []byte("groups")
	bucketGroupMeta = []byte("group_meta")

	keyOrder = []byte("order")
)

var (
	// ErrGroupNotFound is returned when a group id is unknown
	ErrGroupNotFound = errors.New("template group not found")
	// ErrGroupExists is returned when creating a group with a taken id
	ErrGroupExists = errors.New("template group already exists")
	// ErrLastGroup is returned when deleting the only remaining group
	ErrLastGroup = errors.New("at least one template group must remain")
	// ErrNoGroups is returned when replacing the store with nothing
	ErrNoGroups = errors.New("no usable template groups")
	// ErrUnsupportedLocale is returned for locales outside Locales
	ErrUnsupportedLocale = errors.New("unsupported locale")
)

// ListFilter contains filters for listing groups
type ListFilter struct {
	Limit  int
	Offset int
	Search string
}

// Stats contains storage statistics
type Stats struct {
	Total int64 `json:"total"`
}

// Storage keeps the ordered group list in BoltDB
type Storage struct {
	db         *bolt.DB
	normalizer *Normalizer
}

// NewStorage creates a new group storage
func NewStorage(db *bolt.DB, n *Normalizer) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketGroups); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketGroupMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template buckets: %w", err)
	}
	if n == nil {
		n = NewNormalizer()
	}
	return &Storage{db: db, normalizer: n}, nil
}

// Normalizer returns the normalizer used for reads and new groups
func (s *Storage) Normalizer() *Normalizer {
	return s.normalizer
}

// List returns groups in list order with optional filtering
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]Group, error) {
	groups := []Group{}
	search := strings.ToLower(filter.Search)

	err := s.db.View(func(tx *bolt.Tx) error {
		order, err := readOrder(tx)
		if err != nil {
			return err
		}

		skipped := 0
		for _, id := range order {
			group, ok := s.load(tx, id)
			if !ok {
				continue
			}

			if search != "" && !matches(group, search) {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			groups = append(groups, group)

			if filter.Limit > 0 && len(groups) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return groups, err
}

// Get retrieves a group by id. A missing group yields nil without error.
func (s *Storage) Get(ctx context.Context, id string) (*Group, error) {
	var group *Group

	err := s.db.View(func(tx *bolt.Tx) error {
		if g, ok := s.load(tx, id); ok {
			group = &g
		}
		return nil
	})

	return group, err
}

// Create stores a new group at the head of the list
func (s *Storage) Create(ctx context.Context, group Group) error {
	if group.GroupID == "" {
		return fmt.Errorf("group id is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketGroups).Get([]byte(group.GroupID)) != nil {
			return fmt.Errorf("%w: %s", ErrGroupExists, group.GroupID)
		}

		order, err := readOrder(tx)
		if err != nil {
			return err
		}

		if err := putGroup(tx, group); err != nil {
			return err
		}

		return writeOrder(tx, append([]string{group.GroupID}, order...))
	})
}

// Edit applies edit to the version for locale and returns the updated group
func (s *Storage) Edit(ctx context.Context, id string, locale Locale, edit Edit) (*Group, error) {
	if !locale.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, locale)
	}

	var updated *Group
	err := s.db.Update(func(tx *bolt.Tx) error {
		group, ok := s.load(tx, id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
		}

		edit.Apply(&group, locale, s.normalizer.Timestamp())

		if err := putGroup(tx, group); err != nil {
			return err
		}
		updated = &group
		return nil
	})

	return updated, err
}

// Delete removes a group. The last remaining group cannot be deleted.
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		groups := tx.Bucket(bucketGroups)
		if groups.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
		}

		order, err := readOrder(tx)
		if err != nil {
			return err
		}
		if len(order) <= 1 {
			return ErrLastGroup
		}

		remaining := make([]string, 0, len(order)-1)
		for _, existing := range order {
			if existing != id {
				remaining = append(remaining, existing)
			}
		}

		if err := groups.Delete([]byte(id)); err != nil {
			return err
		}
		return writeOrder(tx, remaining)
	})
}

// Replace swaps the whole list, as import and reset do. When an id repeats
// the first group with that id wins. It returns the number of groups stored.
func (s *Storage) Replace(ctx context.Context, groups []Group) (int, error) {
	groups = UniqueGroups(groups)
	if len(groups) == 0 {
		return 0, ErrNoGroups
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketGroups) != nil {
			if err := tx.DeleteBucket(bucketGroups); err != nil {
				return err
			}
		}
		if _, err := tx.CreateBucket(bucketGroups); err != nil {
			return err
		}

		order := make([]string, 0, len(groups))
		for _, group := range groups {
			if err := putGroup(tx, group); err != nil {
				return err
			}
			order = append(order, group.GroupID)
		}

		return writeOrder(tx, order)
	})
	if err != nil {
		return 0, err
	}
	return len(groups), nil
}

// UniqueGroups drops every group whose id was already seen, keeping order
func UniqueGroups(groups []Group) []Group {
	seen := make(map[string]bool, len(groups))
	unique := make([]Group, 0, len(groups))
	for _, group := range groups {
		if seen[group.GroupID] {
			continue
		}
		seen[group.GroupID] = true
		unique = append(unique, group)
	}
	return unique
}

// Seed fills an empty store with starter groups, or one fresh group when
// starter is empty. It reports whether anything was written.
func (s *Storage) Seed(ctx context.Context, starter []Group) (bool, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return false, err
	}
	if stats.Total > 0 {
		return false, nil
	}

	if len(starter) == 0 {
		starter = []Group{s.normalizer.NewGroup()}
	}
	if _, err := s.Replace(ctx, starter); err != nil {
		return false, err
	}
	return true, nil
}

// Reset replaces the list with starter, or one fresh group when starter is empty
func (s *Storage) Reset(ctx context.Context, starter []Group) error {
	if len(starter) == 0 {
		starter = []Group{s.normalizer.NewGroup()}
	}
	_, err := s.Replace(ctx, starter)
	return err
}

// Export returns the full list in export file form
func (s *Storage) Export(ctx context.Context) (*ExportFile, error) {
	groups, err := s.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}

	return &ExportFile{
		Version:   ExportFileVersion,
		UpdatedAt: s.normalizer.Timestamp(),
		Groups:    groups,
	}, nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		order, err := readOrder(tx)
		if err != nil {
			return err
		}
		stats.Total = int64(len(order))
		return nil
	})

	return stats, err
}

// CountGroups returns the number of stored groups
func (s *Storage) CountGroups(ctx context.Context) (int64, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Total, nil
}

// load reads a group and runs it back through the normalizer so callers
// always see a complete group.
func (s *Storage) load(tx *bolt.Tx, id string) (Group, bool) {
	data := tx.Bucket(bucketGroups).Get([]byte(id))
	if data == nil {
		return Group{}, false
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Group{}, false
	}
	return s.normalizer.NormalizeGroup(raw)
}

func putGroup(tx *bolt.Tx, group Group) error {
	data, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("failed to marshal group: %w", err)
	}
	return tx.Bucket(bucketGroups).Put([]byte(group.GroupID), data)
}

func readOrder(tx *bolt.Tx) ([]string, error) {
	data := tx.Bucket(bucketGroupMeta).Get(keyOrder)
	if data == nil {
		return nil, nil
	}
	var order []string
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to read group order: %w", err)
	}
	return order, nil
}

func writeOrder(tx *bolt.Tx, order []string) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketGroupMeta).Put(keyOrder, data)
}

func matches(g Group, search string) bool {
	for _, field := range []string{g.GroupID, g.Category, g.RuleID, g.Keywords} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}
