package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/tendril/kv"
	"github.com/jacentio/tendril/kv/memkv"
	"github.com/jacentio/tendril/kv/rediskv"
	"github.com/jacentio/tendril/kv/sqlitekv"
	"github.com/jacentio/tendril/model"
	"github.com/jacentio/tendril/repository"
	"github.com/jacentio/tendril/store"
)

// backends opens a fresh kv.Store per supported backend.
var backends = map[string]func(t *testing.T) kv.Store{
	"memory": func(t *testing.T) kv.Store {
		return memkv.New()
	},
	"redis": func(t *testing.T) kv.Store {
		m := miniredis.RunT(t)
		s := rediskv.NewFromClient(redis.NewClient(&redis.Options{Addr: m.Addr()}), rediskv.DefaultConfig())
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
	"sqlite": func(t *testing.T) kv.Store {
		s, err := sqlitekv.Open(filepath.Join(t.TempDir(), "tendril.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

// eachBackend runs fn against every backend.
func eachBackend(t *testing.T, fn func(t *testing.T, s *store.Store)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, store.New(open(t), model.Registry(), store.DefaultConfig()))
		})
	}
}

type family struct {
	eddard, robb, sansa, arya, bran, rickon, jon *model.Person
}

func newFamily() *family {
	return &family{
		eddard: model.NewPerson("eddard", "stark", model.Male),
		robb:   model.NewPerson("robb", "stark", model.Male),
		sansa:  model.NewPerson("sansa", "stark", model.Female),
		arya:   model.NewPerson("arya", "stark", model.Female),
		bran:   model.NewPerson("bran", "stark", model.Male),
		rickon: model.NewPerson("rickon", "stark", model.Male),
		jon:    model.NewPerson("jon", "snow", model.Male),
	}
}

func (f *family) all() []*model.Person {
	return []*model.Person{f.eddard, f.robb, f.sansa, f.arya, f.bran, f.rickon, f.jon}
}

func (f *family) save(t *testing.T, repo *repository.PersonRepository) {
	t.Helper()
	require.NoError(t, repo.SaveAll(context.Background(), f.all()...))
}

func firstnames(persons []*model.Person) []string {
	out := make([]string, 0, len(persons))
	for _, p := range persons {
		out = append(out, p.Firstname)
	}
	return out
}
