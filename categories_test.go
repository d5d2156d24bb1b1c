package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catNames(cats []Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.Name
	}
	return out
}

func TestAddCategoryRejectsCaseInsensitiveDuplicate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddCategory("Música"))
	err := s.AddCategory("música")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, s.Categories(), 1)
}

func TestAddCategoryValidatesName(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.AddCategory("   "))

	long := make([]rune, maxCategoryNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	require.Error(t, s.AddCategory(string(long)))
	require.NoError(t, s.AddCategory(string(long[:maxCategoryNameLen])))
}

func TestRenameCategoryRewritesReferences(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddCategory("Ropa"))
	require.NoError(t, s.AddCategory("Música"))

	id := s.Add(KindProduct)
	cats := []string{"Música"}
	require.NoError(t, s.Update(id, ItemPatch{Categories: &cats}))

	require.NoError(t, s.RenameCategory("Música", "Discos"))
	it, _ := s.Get(id)
	assert.Equal(t, []string{"Discos"}, it.Categories)

	// Renaming onto an existing name is rejected.
	err := s.RenameCategory("Discos", "ropa")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestDeleteCategoryDetachesButKeepsItems(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddCategory("Música"))
	require.NoError(t, s.AddCategory("Ropa"))

	var tagged []int64
	for i := 0; i < 3; i++ {
		id := s.Add(KindProduct)
		cats := []string{"Música", "Ropa"}
		require.NoError(t, s.Update(id, ItemPatch{Categories: &cats}))
		tagged = append(tagged, id)
	}
	plain := s.Add(KindLink)

	require.NoError(t, s.DeleteCategory("Música"))

	items := s.Items()
	require.Len(t, items, 4, "no item is deleted with its category")
	for _, id := range tagged {
		it, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, []string{"Ropa"}, it.Categories, "only the deleted name is detached")
	}
	_, ok := s.Get(plain)
	assert.True(t, ok)
	assert.Equal(t, []string{"Ropa"}, catNames(s.Categories()))

	require.Error(t, s.DeleteCategory("Música"), "already gone")
}

func TestActiveCategoriesPreservesRegistryOrder(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"Ropa", "Música", "Vinilos", "Entradas"} {
		require.NoError(t, s.AddCategory(name))
	}

	a := s.Add(KindProduct)
	catsA := []string{"Entradas"}
	require.NoError(t, s.Update(a, ItemPatch{Categories: &catsA}))
	b := s.Add(KindPressable)
	catsB := []string{"música"} // reference case differs from the registry
	require.NoError(t, s.Update(b, ItemPatch{Categories: &catsB}))

	assert.Equal(t, []string{"Música", "Entradas"}, s.ActiveCategories())
}

func TestActiveCategoriesPureFunction(t *testing.T) {
	registry := []Category{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	items := []Item{
		{ID: 1, Kind: KindLink, Categories: []string{"C"}, Link: &LinkFields{}},
	}
	assert.Equal(t, []string{"C"}, ActiveCategories(items, registry))
	assert.Empty(t, ActiveCategories(nil, registry))
}

func TestReorderCategories(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, s.AddCategory(name))
	}

	require.True(t, s.IsCategoryPermutation([]string{"c", "a", "b"}))
	s.ReorderCategories([]string{"C", "A", "B"})
	assert.Equal(t, []string{"C", "A", "B"}, catNames(s.Categories()))

	assert.Panics(t, func() { s.ReorderCategories([]string{"A", "B"}) })
	assert.Panics(t, func() { s.ReorderCategories([]string{"A", "A", "B"}) })
	assert.False(t, s.IsCategoryPermutation([]string{"A", "B", "X"}))
}
