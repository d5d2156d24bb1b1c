package main

import (
	"fmt"
	"strings"
)

// ActiveCategories returns the subsequence of the registry, in registry
// order, that at least one item references. Pure function, recomputed on
// demand; the collections involved are tens of entries.
func ActiveCategories(items []Item, registry []Category) []string {
	var active []string
	for _, cat := range registry {
		for i := range items {
			if items[i].HasCategory(cat.Name) {
				active = append(active, cat.Name)
				break
			}
		}
	}
	return active
}

// Categories returns a copy of the registry in display order.
func (s *Store) Categories() []Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Category(nil), s.categories...)
}

// ActiveCategories projects the registry against the current items.
func (s *Store) ActiveCategories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ActiveCategories(s.items, s.categories)
}

// AddCategory appends a category. Names are case-insensitively unique and
// at most 65 characters.
func (s *Store) AddCategory(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if err := validateCategoryName(name); err != nil {
		return err
	}
	if s.findCategory(name) >= 0 {
		return validationErr("name", "category %q already exists", name)
	}
	s.categories = append(s.categories, Category{Name: name})
	return nil
}

// RenameCategory renames a category and rewrites every item reference to
// the new name. Renaming onto another existing name is rejected.
func (s *Store) RenameCategory(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newName = strings.TrimSpace(newName)
	if err := validateCategoryName(newName); err != nil {
		return err
	}
	idx := s.findCategory(oldName)
	if idx < 0 {
		return validationErr("name", "category %q not found", oldName)
	}
	if dup := s.findCategory(newName); dup >= 0 && dup != idx {
		return validationErr("name", "category %q already exists", newName)
	}
	s.categories[idx].Name = newName
	for i := range s.items {
		for j, ref := range s.items[i].Categories {
			if strings.EqualFold(ref, oldName) {
				s.items[i].Categories[j] = newName
				s.items[i].Version++
			}
		}
	}
	return nil
}

// DeleteCategory removes the category from the registry and silently
// detaches it from every referencing item. The items themselves survive.
func (s *Store) DeleteCategory(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findCategory(name)
	if idx < 0 {
		return validationErr("name", "category %q not found", name)
	}
	s.categories = append(s.categories[:idx], s.categories[idx+1:]...)

	for i := range s.items {
		kept := s.items[i].Categories[:0]
		detached := false
		for _, ref := range s.items[i].Categories {
			if strings.EqualFold(ref, name) {
				detached = true
				continue
			}
			kept = append(kept, ref)
		}
		if detached {
			s.items[i].Categories = kept
			s.items[i].Version++
		}
	}
	return nil
}

// ReorderCategories replaces the registry order wholesale. Like item
// reordering, a non-permutation is a programmer error.
func (s *Store) ReorderCategories(newOrder []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(newOrder) != len(s.categories) {
		panic(fmt.Sprintf("store: category reorder with %d names over %d categories", len(newOrder), len(s.categories)))
	}
	reordered := make([]Category, 0, len(s.categories))
	seen := make(map[string]bool, len(newOrder))
	for _, name := range newOrder {
		key := strings.ToLower(name)
		idx := s.findCategory(name)
		if idx < 0 || seen[key] {
			panic(fmt.Sprintf("store: category reorder is not a permutation, name %q", name))
		}
		seen[key] = true
		reordered = append(reordered, s.categories[idx])
	}
	s.categories = reordered
}

// IsCategoryPermutation mirrors IsPermutation for the registry.
func (s *Store) IsCategoryPermutation(order []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(order) != len(s.categories) {
		return false
	}
	want := make(map[string]bool, len(s.categories))
	for _, c := range s.categories {
		want[strings.ToLower(c.Name)] = true
	}
	for _, name := range order {
		key := strings.ToLower(name)
		if !want[key] {
			return false
		}
		delete(want, key)
	}
	return len(want) == 0
}

func validateCategoryName(name string) error {
	if name == "" {
		return validationErr("name", "name required")
	}
	if len([]rune(name)) > maxCategoryNameLen {
		return validationErr("name", "name exceeds %d characters", maxCategoryNameLen)
	}
	return nil
}

// findCategory is case-insensitive; callers hold s.mu.
func (s *Store) findCategory(name string) int {
	for i := range s.categories {
		if strings.EqualFold(s.categories[i].Name, name) {
			return i
		}
	}
	return -1
}
