package main

import "strings"

// ItemKind discriminates the three item variants on the composed page.
type ItemKind string

const (
	KindLink      ItemKind = "link"
	KindProduct   ItemKind = "product"
	KindPressable ItemKind = "pressable"
)

// Aspect ratios are width/height. AspectFree means an unconstrained
// selection rectangle.
const (
	AspectSquare   = 1.0
	AspectPortrait = 9.0 / 16.0
	AspectFree     = 0.0
)

const (
	maxDescriptionLen  = 1000
	maxCategoryNameLen = 65
	maxImagesPerItem   = 10
)

// ImageRef points at one image of an item. A local ref carries the encoded
// bytes inline as a data URI; a remote ref carries the durable URL the
// object storage returned. A ref goes local to remote exactly once.
type ImageRef struct {
	URL         string  `json:"url"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// Local reports whether the ref is still an in-memory data URI.
func (r ImageRef) Local() bool { return strings.HasPrefix(r.URL, "data:") }

// LinkFields is the payload of a plain link entry.
type LinkFields struct {
	URL   string `json:"url" schema:"url"`
	Label string `json:"label" schema:"label"`
}

// ProductFields is the payload of a purchasable entry.
type ProductFields struct {
	Title       string     `json:"title" schema:"title"`
	Price       int64      `json:"price" schema:"price"`
	PaymentLink string     `json:"payment_link" schema:"payment_link"`
	Description string     `json:"description" schema:"description"`
	Images      []ImageRef `json:"images" schema:"-"`
}

// PressableFields is the payload of a generic pressable entry.
type PressableFields struct {
	Title        string     `json:"title" schema:"title"`
	Subtitle     string     `json:"subtitle" schema:"subtitle"`
	Price        int64      `json:"price" schema:"price"`
	PriceVisible bool       `json:"price_visible" schema:"price_visible"`
	ButtonText   string     `json:"button_text" schema:"button_text"`
	PaymentLink  string     `json:"payment_link" schema:"payment_link"`
	Description  string     `json:"description" schema:"description"`
	Images       []ImageRef `json:"images" schema:"-"`
}

// Item is one entry on the page. Exactly one of the three variant pointers
// is set, selected by Kind. IDs are unique across all variants. Version is
// bumped on every mutation and guards upload patch-back against clobbering
// a concurrent edit.
type Item struct {
	ID         int64    `json:"id"`
	Kind       ItemKind `json:"kind"`
	Visible    bool     `json:"visible"`
	Categories []string `json:"categories,omitempty"`
	Version    int64    `json:"-"`

	Link      *LinkFields      `json:"link,omitempty"`
	Product   *ProductFields   `json:"product,omitempty"`
	Pressable *PressableFields `json:"pressable,omitempty"`
}

// Images returns the item's image list, nil for variants without images.
func (it *Item) Images() []ImageRef {
	switch it.Kind {
	case KindProduct:
		if it.Product != nil {
			return it.Product.Images
		}
	case KindPressable:
		if it.Pressable != nil {
			return it.Pressable.Images
		}
	}
	return nil
}

func (it *Item) setImages(refs []ImageRef) {
	switch it.Kind {
	case KindProduct:
		if it.Product != nil {
			it.Product.Images = refs
		}
	case KindPressable:
		if it.Pressable != nil {
			it.Pressable.Images = refs
		}
	}
}

// ImageURLs is the legacy flat URL projection. The []ImageRef list is the
// single source of truth; this view is derived, never written.
func (it *Item) ImageURLs() []string {
	refs := it.Images()
	if len(refs) == 0 {
		return nil
	}
	urls := make([]string, len(refs))
	for i, r := range refs {
		urls[i] = r.URL
	}
	return urls
}

// HasCategory reports whether the item references the named category,
// case-insensitively.
func (it *Item) HasCategory(name string) bool {
	for _, c := range it.Categories {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

func cloneItem(it Item) Item {
	cp := it
	cp.Categories = append([]string(nil), it.Categories...)
	if it.Link != nil {
		l := *it.Link
		cp.Link = &l
	}
	if it.Product != nil {
		p := *it.Product
		p.Images = append([]ImageRef(nil), it.Product.Images...)
		cp.Product = &p
	}
	if it.Pressable != nil {
		p := *it.Pressable
		p.Images = append([]ImageRef(nil), it.Pressable.Images...)
		cp.Pressable = &p
	}
	return cp
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = cloneItem(it)
	}
	return out
}

// Category is a named tag in the ordered registry. Items hold weak
// references to it by name.
type Category struct {
	Name string `json:"name"`
}

// PageMeta is the page-level metadata persisted alongside the collection.
type PageMeta struct {
	Description     string `json:"description"`
	BackgroundColor string `json:"background_color"`
	AccentColor     string `json:"accent_color"`
	SortMode        string `json:"sort_mode"`
}

// PageDocument is the full payload handed to the persistence collaborator.
type PageDocument struct {
	Items      []Item     `json:"items"`
	Categories []Category `json:"categories"`
	Meta       PageMeta   `json:"meta"`
}
