package storage_test

import (
	"testing"

	"git.fiblab.net/sim/routematch/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPath(t *testing.T) {
	p, err := storage.NewPath(" transit.bus_routes ")
	require.NoError(t, err)
	assert.Equal(t, "transit", p.GetDb())
	assert.Equal(t, "bus_routes", p.GetColl())
	assert.Equal(t, "transit.bus_routes", p.String())

	p, err = storage.NewPath("")
	assert.NoError(t, err)
	assert.Nil(t, p)

	for _, bad := range []string{"nodot", "a.b.c", ".col", "db."} {
		_, err := storage.NewPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolver(t *testing.T) {
	r := &storage.Resolver{
		DB: "routematch",
		Overrides: map[string]map[string]string{
			"yangzhou": {storage.KIND_ELEVATION: "dem.yangzhou_points"},
			"suzhou":   {storage.KIND_ROUTES: "bad"},
		},
	}
	p, err := r.Resolve("yangzhou", storage.KIND_ROUTES)
	require.NoError(t, err)
	assert.Equal(t, &storage.Path{DB: "routematch", Coll: "yangzhou_bus_routes"}, p)

	p, err = r.Resolve("yangzhou", storage.KIND_ELEVATION)
	require.NoError(t, err)
	assert.Equal(t, &storage.Path{DB: "dem", Coll: "yangzhou_points"}, p)

	_, err = r.Resolve("suzhou", storage.KIND_ROUTES)
	assert.Error(t, err)
	_, err = r.Resolve("", storage.KIND_ROUTES)
	assert.Error(t, err)
	_, err = r.Resolve("yangzhou", "buses")
	assert.Error(t, err)
}
