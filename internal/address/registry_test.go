package address_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/address"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/storage/memory"
)

func newRegistry(t *testing.T) (*address.Registry, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return address.NewRegistry(store, zap.NewNop()), store
}

func TestGetOrCreateToleratesTrailingSlash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pairs := [][2]string{
		{"https://ex.com/foo", "https://ex.com/foo/"},
		{"https://ex.com/foo/", "https://ex.com/foo"},
		{"https://ex.com", "https://ex.com/"},
	}
	for _, pair := range pairs {
		reg, _ := newRegistry(t)
		first, created, err := reg.GetOrCreate(ctx, pair[0], false, "seed", "")
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := reg.GetOrCreate(ctx, pair[1], false, "again", "")
		require.NoError(t, err)
		assert.False(t, created, pair[1])
		assert.Equal(t, first.ID, second.ID)
	}
}

func TestGetOrCreateIgnoreQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _ := newRegistry(t)

	first, created, err := reg.GetOrCreate(ctx, "https://ex.com/list?page=1", false, "", "")
	require.NoError(t, err)
	require.True(t, created)

	same, created, err := reg.GetOrCreate(ctx, "https://ex.com/list?page=2", true, "", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, same.ID)

	other, created, err := reg.GetOrCreate(ctx, "https://ex.com/list?page=2", false, "", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateNormalizes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _ := newRegistry(t)

	a, created, err := reg.GetOrCreate(ctx, "https://EX.com:443/x", false, "Entered by user", "ex_com")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, crawler.StatusFresh, a.Status)
	assert.Equal(t, "ex.com", a.Domain)
	assert.Zero(t, a.Port)
	assert.Equal(t, "ex_com", a.ContentGroup)
	assert.Equal(t, crawler.Annotations{"Entered by user"}, a.Comments)

	b, created, err := reg.GetOrCreate(ctx, "https://ex.com:8443/x", false, "", "")
	require.NoError(t, err)
	assert.False(t, created, "a recorded default port matches any port")
	assert.Equal(t, a.ID, b.ID)

	c, created, err := reg.GetOrCreate(ctx, "http://ex.com/x", false, "", "")
	require.NoError(t, err)
	assert.True(t, created, "scheme is part of the identity")
	assert.NotEqual(t, a.ID, c.ID)
}

func TestGetOrCreateRejectsRelativeURL(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	_, _, err := reg.GetOrCreate(context.Background(), "/only/a/path", false, "", "")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) CreateAddress(context.Context, *crawler.Address) error {
	return errors.New("disk full")
}

func TestGetOrCreatePropagatesCreateFailure(t *testing.T) {
	t.Parallel()
	reg := address.NewRegistry(failingStore{memory.NewStore()}, nil)
	_, _, err := reg.GetOrCreate(context.Background(), "https://ex.com/", false, "", "")
	require.ErrorContains(t, err, "disk full")
}

func TestSetStatusPersistsAnnotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, store := newRegistry(t)

	a, _, err := reg.GetOrCreate(ctx, "https://ex.com/", false, "seed", "")
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus(ctx, &a, crawler.StatusErrorOnPage, "The page shows an error"))
	require.NoError(t, reg.SetGroupName(ctx, &a, "ex_com"))

	stored, err := store.GetAddress(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusErrorOnPage, stored.Status)
	assert.Equal(t, "seed; The page shows an error", stored.Comments.String())
	assert.Equal(t, "ex_com", stored.ContentGroup)
}

func TestAreURIsEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, address.AreURIsEqual("https://Ex.com/A", "http://ex.com/a", true))
	assert.True(t, address.AreURIsEqual("https://ex.com/a?x=1", "https://ex.com/a?x=2", true))
	assert.False(t, address.AreURIsEqual("https://ex.com/a?x=1", "https://ex.com/a?x=2", false))
	assert.True(t, address.AreURIsEqual("https://ex.com/a%20b?q=a%20b", "https://ex.com/a b?q=a b", false))
	assert.False(t, address.AreURIsEqual("https://ex.com/a", "https://ex.com/b", true))
	assert.False(t, address.AreURIsEqual("://bad", "https://ex.com/", true))
}

func TestGroupNames(t *testing.T) {
	t.Parallel()

	group, err := address.DomainGroupName("https://WWW.Example.co.uk/path")
	require.NoError(t, err)
	assert.Equal(t, "example_co_uk", group)

	group, err = address.DomainGroupName("https://shop.www.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "shop_www_example_com", group)

	assert.Equal(t, "example_com", address.GroupName(crawler.Address{Domain: "www.example.com"}))
	assert.Equal(t, "mine", address.GroupName(crawler.Address{Domain: "example.com", ContentGroup: "mine"}))

	_, err = address.DomainGroupName("not a url")
	require.Error(t, err)
}
