package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/schema"
	"github.com/sirupsen/logrus"
)

// PermissionGate decides whether the request may mutate or publish the
// page. It is consulted before any save reaches the persistence
// collaborator; on false the save is aborted with a permission error and
// no network call is made.
type PermissionGate func(r *http.Request) bool

type app struct {
	cfg        Config
	log        *logrus.Logger
	store      *Store
	dispatcher *Dispatcher
	persist    Persister
	gate       PermissionGate
	devAssets  *DevStorage

	form *schema.Decoder
}

func newApp(cfg Config, log *logrus.Logger, store *Store, dispatcher *Dispatcher, persist Persister, devAssets *DevStorage) *app {
	form := schema.NewDecoder()
	form.IgnoreUnknownKeys(true)
	a := &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		dispatcher: dispatcher,
		persist:    persist,
		devAssets:  devAssets,
		form:       form,
	}
	a.gate = a.isAdmin
	return a
}

// isAdmin checks the session cookie for the admin flag, falling back to
// the configured token in header or query.
func (a *app) isAdmin(r *http.Request) bool {
	if c, err := r.Cookie("session"); err == nil && c.Value == "admin" {
		return true
	}
	if a.cfg.AdminToken == "" {
		return false
	}
	if t := r.Header.Get("X-Admin-Token"); t != "" && t == a.cfg.AdminToken {
		return true
	}
	if t := r.URL.Query().Get("token"); t != "" && t == a.cfg.AdminToken {
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the error taxonomy onto HTTP statuses: validation 400,
// permission 403, upload 502, in-flight save 409.
func writeErr(w http.ResponseWriter, err error) {
	var ve *ValidationError
	var pe *PermissionError
	var ue *UploadError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &pe):
		http.Error(w, pe.Error(), http.StatusForbidden)
	case errors.Is(err, ErrSaveInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &ue), errors.Is(err, ErrConcurrentEdit):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// loginHandler expects JSON {"username","password"} and sets a session
// cookie for admin.
func (a *app) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cred struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if cred.Username == a.cfg.AdminUser && a.cfg.AdminPass != "" && cred.Password == a.cfg.AdminPass {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "admin", Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func (a *app) logoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusOK)
}

// itemsHandler handles GET (public list) and POST (admin add) on /api/items.
func (a *app) itemsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.store.Items())

	case http.MethodPost:
		if !a.gate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var payload struct {
			Kind ItemKind `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		switch payload.Kind {
		case KindLink, KindProduct, KindPressable:
		default:
			writeErr(w, validationErr("kind", "unknown item kind %q", payload.Kind))
			return
		}
		id := a.store.Add(payload.Kind)
		a.log.WithFields(logrus.Fields{"id": id, "kind": payload.Kind}).Info("item added")
		it, _ := a.store.Get(id)
		writeJSON(w, it)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// itemRoute fans out /api/items/{...} paths by splitting the URL by hand.
func (a *app) itemRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts: ["api", "items", ...]
	if len(parts) < 3 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	switch parts[2] {
	case "reorder":
		a.reorderHandler(w, r)
		return
	case "remove":
		if len(parts) == 4 {
			a.removeDecisionHandler(w, r, parts[3])
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	switch {
	case len(parts) == 3:
		a.itemHandler(w, r, id)
	case len(parts) == 4 && parts[3] == "visibility":
		a.visibilityHandler(w, r, id)
	case len(parts) == 4 && parts[3] == "images":
		a.imagesHandler(w, r, id)
	case len(parts) == 5 && parts[3] == "images" && parts[4] == "move":
		a.imageMoveHandler(w, r, id)
	case len(parts) == 5 && parts[3] == "images":
		idx, err := strconv.Atoi(parts[4])
		if err != nil {
			http.Error(w, "invalid image index", http.StatusBadRequest)
			return
		}
		a.imageIndexHandler(w, r, id, idx)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

// itemHandler handles GET/PUT/DELETE for /api/items/{id}. DELETE only
// stages the removal; the confirmation endpoints finish or cancel it.
func (a *app) itemHandler(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		it, ok := a.store.Get(id)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, it)

	case http.MethodPut:
		if !a.gate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		patch, err := a.decodePatch(r, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := a.store.Update(id, patch); err != nil {
			writeErr(w, err)
			return
		}
		it, _ := a.store.Get(id)
		writeJSON(w, it)

	case http.MethodDelete:
		if !a.gate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := a.store.RequestRemove(id); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"pending_remove": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// decodePatch turns the multipart form into a patch restricted to the
// addressed item's variant, and runs the field-level validation that the
// store itself deliberately skips.
func (a *app) decodePatch(r *http.Request, id int64) (ItemPatch, error) {
	var patch ItemPatch
	if err := r.ParseMultipartForm(20 << 20); err != nil {
		return patch, validationErr("form", "parse multipart: %v", err)
	}
	it, ok := a.store.Get(id)
	if !ok {
		return patch, validationErr("id", "item %d not found", id)
	}
	values := r.MultipartForm.Value

	if vals, ok := values["visible"]; ok && len(vals) > 0 {
		v, err := strconv.ParseBool(vals[0])
		if err != nil {
			return patch, validationErr("visible", "invalid boolean %q", vals[0])
		}
		patch.Visible = &v
	}
	if vals, ok := values["categories"]; ok {
		cats := append([]string(nil), vals...)
		patch.Categories = &cats
	}

	switch it.Kind {
	case KindLink:
		var p LinkPatch
		if err := a.form.Decode(&p, values); err != nil {
			return patch, validationErr("form", "decode fields: %v", err)
		}
		patch.Link = &p
	case KindProduct:
		var p ProductPatch
		if err := a.form.Decode(&p, values); err != nil {
			return patch, validationErr("form", "decode fields: %v", err)
		}
		if err := validatePriceDescription(p.Price, p.Description); err != nil {
			return patch, err
		}
		patch.Product = &p
	case KindPressable:
		var p PressablePatch
		if err := a.form.Decode(&p, values); err != nil {
			return patch, validationErr("form", "decode fields: %v", err)
		}
		if err := validatePriceDescription(p.Price, p.Description); err != nil {
			return patch, err
		}
		patch.Pressable = &p
	}
	return patch, nil
}

func validatePriceDescription(price *int64, description *string) error {
	if price != nil && *price < 0 {
		return validationErr("price", "price must not be negative")
	}
	if description != nil && len([]rune(*description)) > maxDescriptionLen {
		return validationErr("description", "description exceeds %d characters", maxDescriptionLen)
	}
	return nil
}

// removeDecisionHandler finishes or cancels a staged deletion.
func (a *app) removeDecisionHandler(w http.ResponseWriter, r *http.Request, decision string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch decision {
	case "confirm":
		removed, ok := a.store.ConfirmRemove()
		if !ok {
			http.Error(w, "no removal pending", http.StatusConflict)
			return
		}
		a.log.WithFields(logrus.Fields{"id": removed.ID, "kind": removed.Kind}).Info("item removed")
		a.dispatcher.CleanupRemoved(r.Context(), removed)
		writeJSON(w, map[string]interface{}{"removed": removed.ID})
	case "cancel":
		a.store.CancelRemove()
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

// reorderHandler replaces the display order wholesale. A payload that is
// not a permutation of the current ids is a user error here, so it is
// checked before the store treats it as a programmer error.
func (a *app) reorderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Order []int64 `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !a.store.IsPermutation(payload.Order) {
		writeErr(w, validationErr("order", "order must be a permutation of the current item ids"))
		return
	}
	a.store.Reorder(payload.Order)
	writeJSON(w, a.store.Items())
}

func (a *app) visibilityHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := a.store.ToggleVisibility(id); err != nil {
		writeErr(w, err)
		return
	}
	it, _ := a.store.Get(id)
	writeJSON(w, it)
}

// imagesHandler accepts a multipart upload with crop parameters and stages
// the cropped result as a local image on the item. Fields: file, aspect
// ("square", "portrait", "free" or a ratio), optional rect_x/y/w/h,
// display_scale, pixel_density and index (re-edit slot).
func (a *app) imagesHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := r.ParseMultipartForm(a.cfg.MaxImageBytes + (1 << 20)); err != nil {
		http.Error(w, "parse multipart: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeErr(w, validationErr("file", "file required"))
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, a.cfg.MaxImageBytes+1))
	if err != nil {
		http.Error(w, "read file: "+err.Error(), http.StatusBadRequest)
		return
	}

	ratio, err := parseAspect(r.FormValue("aspect"))
	if err != nil {
		writeErr(w, err)
		return
	}
	displayScale := formFloat(r, "display_scale", 1)
	pixelDensity := formFloat(r, "pixel_density", 1)

	editIndex := -1
	if v := r.FormValue("index"); v != "" {
		editIndex, err = strconv.Atoi(v)
		if err != nil {
			writeErr(w, validationErr("index", "invalid index %q", v))
			return
		}
	}

	session := NewImageSession(editIndex)
	if err := session.Select(raw, a.cfg.MaxImageBytes, ratio, displayScale, pixelDensity); err != nil {
		writeErr(w, err)
		return
	}
	if r.FormValue("rect_w") != "" {
		rect := Rect{
			X: formFloat(r, "rect_x", 0),
			Y: formFloat(r, "rect_y", 0),
			W: formFloat(r, "rect_w", 0),
			H: formFloat(r, "rect_h", 0),
		}
		if err := session.Crop().SetRect(rect); err != nil {
			session.Cancel()
			writeErr(w, err)
			return
		}
	}
	ref, err := session.Confirm()
	if err != nil {
		session.Cancel()
		writeErr(w, err)
		return
	}

	if session.EditIndex() >= 0 {
		err = a.store.ReplaceImage(id, session.EditIndex(), ref)
	} else {
		err = a.store.AppendImage(id, ref)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	it, _ := a.store.Get(id)
	a.log.WithFields(logrus.Fields{"id": id, "images": len(it.Images())}).Info("image staged")
	writeJSON(w, it)
}

func parseAspect(v string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "square":
		return AspectSquare, nil
	case "portrait":
		return AspectPortrait, nil
	case "free":
		return AspectFree, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, validationErr("aspect", "unsupported aspect ratio %q", v)
	}
	return f, nil
}

func formFloat(r *http.Request, key string, def float64) float64 {
	v := r.FormValue(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (a *app) imageMoveHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.store.MoveImage(id, payload.From, payload.To); err != nil {
		writeErr(w, err)
		return
	}
	it, _ := a.store.Get(id)
	writeJSON(w, it)
}

func (a *app) imageIndexHandler(w http.ResponseWriter, r *http.Request, id int64, idx int) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := a.store.RemoveImage(id, idx); err != nil {
		writeErr(w, err)
		return
	}
	it, _ := a.store.Get(id)
	active := clampActiveIndex(idx, len(it.Images()))
	writeJSON(w, map[string]interface{}{"item": it, "active_index": active})
}

// categoriesHandler handles the registry root: list, add, active
// projection and reorder.
func (a *app) categoriesHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 3 {
		switch parts[2] {
		case "active":
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			writeJSON(w, a.store.ActiveCategories())
			return
		case "reorder":
			a.categoryReorderHandler(w, r)
			return
		default:
			a.categoryItemHandler(w, r, parts[2])
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.store.Categories())

	case http.MethodPost:
		if !a.gate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.store.AddCategory(payload.Name); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, a.store.Categories())

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *app) categoryItemHandler(w http.ResponseWriter, r *http.Request, name string) {
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.store.RenameCategory(name, payload.Name); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, a.store.Categories())

	case http.MethodDelete:
		if err := a.store.DeleteCategory(name); err != nil {
			writeErr(w, err)
			return
		}
		a.log.WithField("name", name).Info("category deleted")
		writeJSON(w, a.store.Categories())

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *app) categoryReorderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !a.store.IsCategoryPermutation(payload.Order) {
		writeErr(w, validationErr("order", "order must be a permutation of the current category names"))
		return
	}
	a.store.ReorderCategories(payload.Order)
	writeJSON(w, a.store.Categories())
}

// pageMetaHandler manages GET/PUT for the page-level metadata.
func (a *app) pageMetaHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.store.Meta())

	case http.MethodPut, http.MethodPost:
		if !a.gate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var meta PageMeta
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		a.store.SetMeta(meta)
		writeJSON(w, meta)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// publishHandler runs the full save: permission gate, placeholder covers,
// upload dispatch, version-checked patch-back, then the persistence call.
func (a *app) publishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.gate(r) {
		writeErr(w, &PermissionError{Msg: "not allowed to publish this page"})
		return
	}
	ctx := r.Context()

	if err := EnsureCovers(a.store); err != nil {
		writeErr(w, err)
		return
	}

	patched, err := a.dispatcher.Dispatch(ctx, a.store.Items())
	if err != nil {
		a.log.WithError(err).Error("publish: dispatch failed")
		writeErr(w, err)
		return
	}
	if len(patched) > 0 {
		if err := a.store.CommitImages(patched); err != nil {
			a.log.WithError(err).Error("publish: patch-back refused")
			writeErr(w, err)
			return
		}
	}

	doc := a.store.Document()
	if err := a.persist.SavePage(ctx, doc); err != nil {
		a.log.WithError(err).Error("publish: persistence failed")
		http.Error(w, "failed to save page", http.StatusBadGateway)
		return
	}
	a.log.WithFields(logrus.Fields{"items": len(doc.Items), "categories": len(doc.Categories)}).Info("page published")
	writeJSON(w, doc)
}

// publicPageHandler serves the last published document, filtered to the
// visible items and the active subset of its category registry.
func (a *app) publicPageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, ok, err := a.persist.LoadPage(r.Context())
	if err != nil {
		a.log.WithError(err).Error("load published page")
		http.Error(w, "page not ready", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	visible := make([]Item, 0, len(doc.Items))
	for _, it := range doc.Items {
		if it.Visible {
			visible = append(visible, it)
		}
	}
	writeJSON(w, map[string]interface{}{
		"items":      visible,
		"categories": ActiveCategories(visible, doc.Categories),
		"meta":       doc.Meta,
	})
}

// devAssetsHandler serves dev-mode uploads back out of memory.
func (a *app) devAssetsHandler(w http.ResponseWriter, r *http.Request) {
	if a.devAssets == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/dev-assets/")
	p, ok := a.devAssets.Object(name)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", p.MIME)
	_, _ = w.Write(p.Data)
}

// routes registers every endpoint on the mux.
func (a *app) routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/login", a.loginHandler)
	mux.HandleFunc("/api/logout", a.logoutHandler)
	mux.HandleFunc("/api/items", a.itemsHandler)
	mux.HandleFunc("/api/items/", a.itemRoute)
	mux.HandleFunc("/api/categories", a.categoriesHandler)
	mux.HandleFunc("/api/categories/", a.categoriesHandler)
	mux.HandleFunc("/api/page", a.pageMetaHandler)
	mux.HandleFunc("/api/publish", a.publishHandler)
	mux.HandleFunc("/api/public", a.publicPageHandler)
	mux.HandleFunc("/dev-assets/", a.devAssetsHandler)
}
