package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Payload is one named binary blob handed to the object storage.
type Payload struct {
	Name string
	MIME string
	Data []byte
}

// ObjectStorage is the binary object storage collaborator. It accepts a
// batch of payloads scoped to the owning item and returns one durable URL
// per payload, in the same order submitted.
type ObjectStorage interface {
	UploadBatch(ctx context.Context, itemID int64, payloads []Payload) ([]string, error)
}

// Dispatcher batches all locally staged images of a save, pushes them to
// the object storage per owning item, and produces patched item copies
// with the local refs replaced by remote locators in the same positions.
// The whole multi-item save is all-or-nothing: any failure means no item
// is patched and the caller gets one aggregate error.
type Dispatcher struct {
	storage ObjectStorage
	log     logrus.FieldLogger

	mu       sync.Mutex
	inFlight bool
}

func NewDispatcher(storage ObjectStorage, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{storage: storage, log: log.WithField("component", "dispatcher")}
}

type pendingBatch struct {
	itemIdx   int
	positions []int
	payloads  []Payload
}

// Dispatch uploads every local ImageRef in items and returns patched
// copies of only the items that owned local refs. Already-remote refs are
// never re-uploaded. A second dispatch while one is running is rejected
// with ErrSaveInFlight.
func (d *Dispatcher) Dispatch(ctx context.Context, items []Item) ([]Item, error) {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return nil, ErrSaveInFlight
	}
	d.inFlight = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	items = cloneItems(items)

	var batches []pendingBatch
	failures := map[int64]error{}
	for i := range items {
		batch := pendingBatch{itemIdx: i}
		for pos, ref := range items[i].Images() {
			if !ref.Local() {
				continue
			}
			mime, data, err := DecodeDataURI(ref.URL)
			if err != nil {
				failures[items[i].ID] = fmt.Errorf("image %d: %w", pos, err)
				break
			}
			batch.positions = append(batch.positions, pos)
			batch.payloads = append(batch.payloads, Payload{
				Name: fmt.Sprintf("item_%d_img_%d", items[i].ID, pos),
				MIME: mime,
				Data: data,
			})
		}
		if len(batch.payloads) > 0 && failures[items[i].ID] == nil {
			batches = append(batches, batch)
		}
	}
	if len(failures) > 0 {
		return nil, &UploadError{Failures: failures}
	}
	if len(batches) == 0 {
		return nil, nil
	}

	// One storage call per owning item. Nothing is patched until every
	// batch of the save has succeeded.
	results := make([][]string, len(batches))
	for bi, batch := range batches {
		id := items[batch.itemIdx].ID
		urls, err := d.storage.UploadBatch(ctx, id, batch.payloads)
		if err != nil {
			d.log.WithFields(logrus.Fields{"item_id": id, "images": len(batch.payloads)}).
				WithError(err).Error("batch upload failed, aborting save")
			failures[id] = err
			return nil, &UploadError{Failures: failures}
		}
		if len(urls) != len(batch.payloads) {
			failures[id] = fmt.Errorf("storage returned %d urls for %d payloads", len(urls), len(batch.payloads))
			return nil, &UploadError{Failures: failures}
		}
		results[bi] = urls
		d.log.WithFields(logrus.Fields{"item_id": id, "images": len(urls)}).Info("batch uploaded")
	}

	patched := make([]Item, 0, len(batches))
	for bi, batch := range batches {
		it := &items[batch.itemIdx]
		refs := it.Images()
		for pi, pos := range batch.positions {
			refs[pos] = ImageRef{URL: results[bi][pi], AspectRatio: refs[pos].AspectRatio}
		}
		it.setImages(refs)
		patched = append(patched, *it)
	}
	return patched, nil
}

// ObjectRemover is implemented by storages that can delete previously
// uploaded objects.
type ObjectRemover interface {
	Destroy(ctx context.Context, url string) error
}

// CleanupRemoved deletes the remote images of a removed item, best
// effort. Local refs never reached the storage and are skipped.
func (d *Dispatcher) CleanupRemoved(ctx context.Context, item Item) {
	remover, ok := d.storage.(ObjectRemover)
	if !ok {
		return
	}
	for _, ref := range item.Images() {
		if ref.Local() {
			continue
		}
		if err := remover.Destroy(ctx, ref.URL); err != nil {
			d.log.WithFields(logrus.Fields{"item_id": item.ID, "url": ref.URL}).
				WithError(err).Warn("could not delete stored image")
		}
	}
}

// EnsureCovers stages a generated placeholder cover on every image-bearing
// item that has none, so a published page never shows an empty tile.
func EnsureCovers(store *Store) error {
	for _, it := range store.Items() {
		if it.Kind == KindLink || len(it.Images()) > 0 {
			continue
		}
		seed := fmt.Sprintf("item:%d", it.ID)
		png, err := renderPlaceholderPNG(seed, 640, 640)
		if err != nil {
			return fmt.Errorf("render cover for item %d: %w", it.ID, err)
		}
		ref := ImageRef{URL: EncodeDataURI("image/png", png), AspectRatio: AspectSquare}
		if err := store.AppendImage(it.ID, ref); err != nil {
			return err
		}
	}
	return nil
}
