package repository

import (
	"context"

	"github.com/jacentio/tendril/model"
	"github.com/jacentio/tendril/store"
)

// PersonRepository stores persons and answers lookups on their indexed fields.
type PersonRepository struct {
	store *store.Store
}

// NewPersonRepository creates a PersonRepository on s.
func NewPersonRepository(s *store.Store) *PersonRepository {
	return &PersonRepository{store: s}
}

// Save writes p, assigning an ID when it has none. Children must be saved.
func (r *PersonRepository) Save(ctx context.Context, p *model.Person) error {
	return r.store.Save(ctx, p)
}

// SaveAll saves persons in order.
func (r *PersonRepository) SaveAll(ctx context.Context, persons ...*model.Person) error {
	return r.store.SaveAll(ctx, store.EntitiesOf(persons...)...)
}

func (r *PersonRepository) FindByID(ctx context.Context, id string, opts ...store.ReadOption) (*model.Person, bool, error) {
	return findByID[*model.Person](ctx, r.store, model.KeyspacePersons, id, opts)
}

func (r *PersonRepository) FindByLastname(ctx context.Context, lastname string) ([]*model.Person, error) {
	return r.find(ctx, store.All, store.Where("lastname", lastname))
}

// FindPersonByLastname returns one page of the persons with lastname.
func (r *PersonRepository) FindPersonByLastname(ctx context.Context, lastname string, page store.PageRequest) (Page[*model.Person], error) {
	p, err := r.store.FindByIndexPaged(ctx, model.KeyspacePersons, "lastname", lastname, page)
	if err != nil {
		return Page[*model.Person]{}, err
	}
	return pageOf[*model.Person](p), nil
}

func (r *PersonRepository) FindByFirstnameAndLastname(ctx context.Context, firstname, lastname string) ([]*model.Person, error) {
	return r.find(ctx, store.All, store.Where("firstname", firstname), store.Where("lastname", lastname))
}

// FindByFirstnameOrLastname matches either name. Empty names are skipped;
// when both are empty nothing matches.
func (r *PersonRepository) FindByFirstnameOrLastname(ctx context.Context, firstname, lastname string) ([]*model.Person, error) {
	var criteria []store.Criterion
	if firstname != "" {
		criteria = append(criteria, store.Where("firstname", firstname))
	}
	if lastname != "" {
		criteria = append(criteria, store.Where("lastname", lastname))
	}
	if len(criteria) == 0 {
		return nil, nil
	}
	return r.find(ctx, store.Any, criteria...)
}

func (r *PersonRepository) FindByAddressCity(ctx context.Context, city string) ([]*model.Person, error) {
	return r.find(ctx, store.All, store.Where("address.city", city))
}

// FindAll returns the persons matching every field set on probe. A nil
// probe returns everyone.
func (r *PersonRepository) FindAll(ctx context.Context, probe *model.Person) ([]*model.Person, error) {
	if probe == nil {
		probe = &model.Person{}
	}
	found, err := r.store.FindByExample(ctx, probe)
	if err != nil {
		return nil, err
	}
	return store.Collect[*model.Person](found), nil
}

func (r *PersonRepository) Count(ctx context.Context) (int64, error) {
	return r.store.Count(ctx, model.KeyspacePersons)
}

// Delete removes the person and unlinks it from its parents.
func (r *PersonRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, model.KeyspacePersons, id)
}

// DeleteAll removes the given persons, or everyone when no ID is given.
func (r *PersonRepository) DeleteAll(ctx context.Context, ids ...string) error {
	return r.store.DeleteAll(ctx, model.KeyspacePersons, ids...)
}

func (r *PersonRepository) find(ctx context.Context, match store.Match, criteria ...store.Criterion) ([]*model.Person, error) {
	return find[*model.Person](ctx, r.store, store.Query{Keyspace: model.KeyspacePersons, Criteria: criteria, Match: match})
}
