package model

import (
	"github.com/jacentio/tendril/store"
)

// KeyspacePersons holds Person entities.
const KeyspacePersons = "persons"

// Gender of a Person.
type Gender string

const (
	Male   Gender = "MALE"
	Female Gender = "FEMALE"
)

// Address is embedded into its Person's hash.
type Address struct {
	City    string
	Country string
}

// Person is a member of a family tree. Children are references to other
// persons and must be saved before the parent.
type Person struct {
	ID        string
	Firstname string
	Lastname  string
	Gender    Gender
	Address   *Address
	Children  []*Person
}

// NewPerson returns an unsaved person.
func NewPerson(firstname, lastname string, gender Gender) *Person {
	return &Person{Firstname: firstname, Lastname: lastname, Gender: gender}
}

func (p *Person) Keyspace() string      { return KeyspacePersons }
func (p *Person) EntityID() string      { return p.ID }
func (p *Person) SetEntityID(id string) { p.ID = id }

func (p *Person) MarshalHash(w *store.HashWriter) error {
	w.Put("firstname", p.Firstname)
	w.Put("lastname", p.Lastname)
	w.Put("gender", string(p.Gender))
	if p.Address != nil {
		w.Embed("address", func(w *store.HashWriter) error {
			w.Put("city", p.Address.City)
			w.Put("country", p.Address.Country)
			return nil
		})
	}
	w.Ref("children", store.EntitiesOf(p.Children...)...)
	return nil
}

func (p *Person) UnmarshalHash(r *store.HashReader) error {
	p.Firstname = r.String("firstname")
	p.Lastname = r.String("lastname")
	p.Gender = Gender(r.String("gender"))
	if r.HasEmbedded("address") {
		a := r.Embedded("address")
		p.Address = &Address{City: a.String("city"), Country: a.String("country")}
	}
	return nil
}

func (p *Person) UnmarshalRefs(name string, targets []store.Entity) error {
	if name == "children" {
		p.Children = store.Collect[*Person](targets)
	}
	return nil
}

// PersonSchema indexes first name, last name and city.
func PersonSchema() store.Schema {
	return store.Schema{
		Keyspace: KeyspacePersons,
		Indexes:  []string{"firstname", "lastname", "address.city"},
		New:      func() store.Entity { return &Person{} },
	}
}
