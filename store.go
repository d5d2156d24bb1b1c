package main

import (
	"fmt"
	"sync"
)

// Confirmer surfaces a yes/no decision to the user for a destructive
// delete. The store only stages the deletion; it does not render UI.
type Confirmer interface {
	ConfirmRemoval(item Item)
}

// ItemPatch is a shallow per-field merge for Update. Only the section
// matching the addressed item's variant may be set; the rest is rejected.
// Nil pointers mean "leave the field alone".
type ItemPatch struct {
	Visible    *bool
	Categories *[]string

	Link      *LinkPatch
	Product   *ProductPatch
	Pressable *PressablePatch
}

type LinkPatch struct {
	URL   *string `schema:"url"`
	Label *string `schema:"label"`
}

type ProductPatch struct {
	Title       *string `schema:"title"`
	Price       *int64  `schema:"price"`
	PaymentLink *string `schema:"payment_link"`
	Description *string `schema:"description"`
}

type PressablePatch struct {
	Title        *string `schema:"title"`
	Subtitle     *string `schema:"subtitle"`
	Price        *int64  `schema:"price"`
	PriceVisible *bool   `schema:"price_visible"`
	ButtonText   *string `schema:"button_text"`
	PaymentLink  *string `schema:"payment_link"`
	Description  *string `schema:"description"`
}

// Store holds the ordered, polymorphic item collection plus the category
// registry, and exposes atomic mutation operations. All operations are
// synchronous and guarded by one mutex, so no two mutations interleave.
type Store struct {
	mu         sync.Mutex
	items      []Item
	categories []Category
	meta       PageMeta
	nextID     int64

	// Pending-delete state machine: 0 is idle, otherwise the staged id.
	// Ids start at 1 so the zero value is never a valid target.
	pendingRemove int64

	confirmer Confirmer
}

// NewStore returns an empty store. confirmer may be nil.
func NewStore(confirmer Confirmer) *Store {
	return &Store{nextID: 1, confirmer: confirmer}
}

// Load replaces the store contents with a persisted document. The id
// counter resumes at max(existing)+1; ids of removed items are never
// handed out again within a session.
func (s *Store) Load(doc PageDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = cloneItems(doc.Items)
	s.categories = append([]Category(nil), doc.Categories...)
	s.meta = doc.Meta
	s.pendingRemove = 0
	s.nextID = 1
	for i := range s.items {
		if s.items[i].ID >= s.nextID {
			s.nextID = s.items[i].ID + 1
		}
	}
}

// Items returns a copy of the collection in display order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// Meta returns the page-level metadata.
func (s *Store) Meta() PageMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// SetMeta replaces the page-level metadata.
func (s *Store) SetMeta(meta PageMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
}

// Document snapshots the full page for the persistence collaborator.
func (s *Store) Document() PageDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PageDocument{
		Items:      cloneItems(s.items),
		Categories: append([]Category(nil), s.categories...),
		Meta:       s.meta,
	}
}

// Get returns a copy of the item with the given id.
func (s *Store) Get(id int64) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			return cloneItem(s.items[i]), true
		}
	}
	return Item{}, false
}

// Add allocates the next id, constructs a default-valued item of the given
// variant and prepends it. It has no failure mode for known kinds.
func (s *Store) Add(kind ItemKind) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := Item{ID: s.nextID, Kind: kind, Visible: true, Version: 1}
	switch kind {
	case KindLink:
		it.Link = &LinkFields{}
	case KindProduct:
		it.Product = &ProductFields{}
	case KindPressable:
		it.Pressable = &PressableFields{}
	default:
		panic(fmt.Sprintf("store: unknown item kind %q", kind))
	}
	s.nextID++
	s.items = append([]Item{it}, s.items...)
	return it.ID
}

// Update applies a shallow merge of patch fields to the addressed item.
// A patch carrying a section for a different variant is rejected and the
// item is left untouched. No content validation happens here; that is the
// handler boundary's job.
func (s *Store) Update(id int64, patch ItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.find(id)
	if it == nil {
		return validationErr("id", "item %d not found", id)
	}
	if err := patchMatchesKind(it.Kind, patch); err != nil {
		return err
	}

	if patch.Visible != nil {
		it.Visible = *patch.Visible
	}
	if patch.Categories != nil {
		it.Categories = append([]string(nil), (*patch.Categories)...)
	}
	switch it.Kind {
	case KindLink:
		if p := patch.Link; p != nil {
			if p.URL != nil {
				it.Link.URL = *p.URL
			}
			if p.Label != nil {
				it.Link.Label = *p.Label
			}
		}
	case KindProduct:
		if p := patch.Product; p != nil {
			if p.Title != nil {
				it.Product.Title = *p.Title
			}
			if p.Price != nil {
				it.Product.Price = *p.Price
			}
			if p.PaymentLink != nil {
				it.Product.PaymentLink = *p.PaymentLink
			}
			if p.Description != nil {
				it.Product.Description = *p.Description
			}
		}
	case KindPressable:
		if p := patch.Pressable; p != nil {
			if p.Title != nil {
				it.Pressable.Title = *p.Title
			}
			if p.Subtitle != nil {
				it.Pressable.Subtitle = *p.Subtitle
			}
			if p.Price != nil {
				it.Pressable.Price = *p.Price
			}
			if p.PriceVisible != nil {
				it.Pressable.PriceVisible = *p.PriceVisible
			}
			if p.ButtonText != nil {
				it.Pressable.ButtonText = *p.ButtonText
			}
			if p.PaymentLink != nil {
				it.Pressable.PaymentLink = *p.PaymentLink
			}
			if p.Description != nil {
				it.Pressable.Description = *p.Description
			}
		}
	}
	it.Version++
	return nil
}

func patchMatchesKind(kind ItemKind, patch ItemPatch) error {
	if patch.Link != nil && kind != KindLink {
		return validationErr("link", "fields do not belong to a %s item", kind)
	}
	if patch.Product != nil && kind != KindProduct {
		return validationErr("product", "fields do not belong to a %s item", kind)
	}
	if patch.Pressable != nil && kind != KindPressable {
		return validationErr("pressable", "fields do not belong to a %s item", kind)
	}
	return nil
}

// RequestRemove stages a pending deletion and surfaces the confirmation
// prompt. A second request replaces the staged id.
func (s *Store) RequestRemove(id int64) error {
	s.mu.Lock()
	it := s.find(id)
	if it == nil {
		s.mu.Unlock()
		return validationErr("id", "item %d not found", id)
	}
	s.pendingRemove = id
	snapshot := cloneItem(*it)
	confirmer := s.confirmer
	s.mu.Unlock()

	if confirmer != nil {
		confirmer.ConfirmRemoval(snapshot)
	}
	return nil
}

// ConfirmRemove filters the staged id out of the collection. The freed id
// is never reassigned.
func (s *Store) ConfirmRemove() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRemove == 0 {
		return Item{}, false
	}
	id := s.pendingRemove
	s.pendingRemove = 0
	for i := range s.items {
		if s.items[i].ID == id {
			removed := cloneItem(s.items[i])
			s.items = append(s.items[:i], s.items[i+1:]...)
			return removed, true
		}
	}
	return Item{}, false
}

// CancelRemove clears the staged deletion without mutating the collection.
func (s *Store) CancelRemove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRemove = 0
}

// PendingRemove returns the staged id, or 0 when idle.
func (s *Store) PendingRemove() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingRemove
}

// Reorder replaces the display order wholesale. newOrder must be a
// permutation of the current ids; a violation is a programmer error and
// panics rather than silently truncating or duplicating the collection.
func (s *Store) Reorder(newOrder []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(newOrder) != len(s.items) {
		panic(fmt.Sprintf("store: reorder with %d ids over %d items", len(newOrder), len(s.items)))
	}
	byID := make(map[int64]int, len(s.items))
	for i := range s.items {
		byID[s.items[i].ID] = i
	}
	reordered := make([]Item, 0, len(s.items))
	seen := make(map[int64]bool, len(newOrder))
	for _, id := range newOrder {
		idx, ok := byID[id]
		if !ok || seen[id] {
			panic(fmt.Sprintf("store: reorder is not a permutation, id %d", id))
		}
		seen[id] = true
		reordered = append(reordered, s.items[idx])
	}
	s.items = reordered
}

// IsPermutation reports whether order matches the current id set exactly.
// Handlers use it to turn a bad user payload into a validation error before
// Reorder treats it as a programmer error.
func (s *Store) IsPermutation(order []int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(order) != len(s.items) {
		return false
	}
	want := make(map[int64]bool, len(s.items))
	for i := range s.items {
		want[s.items[i].ID] = true
	}
	for _, id := range order {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}

// ToggleVisibility flips the visible flag. Absent items are a validation
// error; absent flags were already defaulted to visible on Add/Load.
func (s *Store) ToggleVisibility(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.find(id)
	if it == nil {
		return validationErr("id", "item %d not found", id)
	}
	it.Visible = !it.Visible
	it.Version++
	return nil
}

// AppendImage adds a staged image at the end of the item's list.
func (s *Store) AppendImage(id int64, ref ImageRef) error {
	return s.mutateImages(id, func(refs []ImageRef) ([]ImageRef, error) {
		if len(refs) >= maxImagesPerItem {
			return nil, validationErr("images", "an item holds at most %d images", maxImagesPerItem)
		}
		return append(refs, ref), nil
	})
}

// ReplaceImage swaps the image at idx for a freshly cropped one (re-edit).
func (s *Store) ReplaceImage(id int64, idx int, ref ImageRef) error {
	return s.mutateImages(id, func(refs []ImageRef) ([]ImageRef, error) {
		if idx < 0 || idx >= len(refs) {
			return nil, validationErr("index", "image %d out of range", idx)
		}
		refs[idx] = ref
		return refs, nil
	})
}

// MoveImage removes the image at from and reinserts it at to.
func (s *Store) MoveImage(id int64, from, to int) error {
	return s.mutateImages(id, func(refs []ImageRef) ([]ImageRef, error) {
		if from < 0 || from >= len(refs) || to < 0 || to >= len(refs) {
			return nil, validationErr("index", "move %d -> %d out of range", from, to)
		}
		ref := refs[from]
		refs = append(refs[:from], refs[from+1:]...)
		rest := append([]ImageRef(nil), refs[to:]...)
		refs = append(append(refs[:to], ref), rest...)
		return refs, nil
	})
}

// RemoveImage drops the image at idx.
func (s *Store) RemoveImage(id int64, idx int) error {
	return s.mutateImages(id, func(refs []ImageRef) ([]ImageRef, error) {
		if idx < 0 || idx >= len(refs) {
			return nil, validationErr("index", "image %d out of range", idx)
		}
		return append(refs[:idx], refs[idx+1:]...), nil
	})
}

func (s *Store) mutateImages(id int64, fn func([]ImageRef) ([]ImageRef, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.find(id)
	if it == nil {
		return validationErr("id", "item %d not found", id)
	}
	refs := it.Images()
	if refs == nil && it.Kind == KindLink {
		return validationErr("kind", "link items carry no images")
	}
	updated, err := fn(append([]ImageRef(nil), refs...))
	if err != nil {
		return err
	}
	it.setImages(updated)
	it.Version++
	return nil
}

// CommitImages applies the dispatcher's patched items back into the store.
// Each patched item must still be at the version the dispatch snapshot saw;
// otherwise the whole commit is refused so a concurrent edit is never
// clobbered by a stale upload result.
func (s *Store) CommitImages(patched []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]*Item, len(patched))
	for i := range patched {
		it := s.find(patched[i].ID)
		if it == nil || it.Version != patched[i].Version {
			return fmt.Errorf("item %d: %w", patched[i].ID, ErrConcurrentEdit)
		}
		targets[i] = it
	}
	for i := range patched {
		refs := patched[i].Images()
		targets[i].setImages(append([]ImageRef(nil), refs...))
		targets[i].Version++
	}
	return nil
}

// find returns a pointer into the backing slice; callers hold s.mu.
func (s *Store) find(id int64) *Item {
	for i := range s.items {
		if s.items[i].ID == id {
			return &s.items[i]
		}
	}
	return nil
}
