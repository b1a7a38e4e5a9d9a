// Package search answers the dashboard company lookup, using Meilisearch when
// it is reachable and an exact substring filter otherwise.
package search

import "logistics/api/internal/store"

// Engine names the backend that answered a lookup.
type Engine string

const (
	EngineMeili  Engine = "meilisearch"
	EngineFilter Engine = "filter"
)

// Response is the envelope returned by the lookup endpoint.
type Response struct {
	Results []store.Company `json:"results"`
	Total   int             `json:"total"`
	Query   string          `json:"query"`
	Engine  Engine          `json:"engine"`
}

// CompanyRecord is the data we index for a company. Images stay out of the
// index.
type CompanyRecord struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Address         string `json:"address"`
	DeliveryDetails string `json:"deliveryDetails"`
	ContactPerson   string `json:"contactPerson"`
	AssignedTour    string `json:"assignedTour"`
}

func recordFor(c store.Company) CompanyRecord {
	return CompanyRecord{
		ID:              c.ID,
		Name:            c.Name,
		Address:         c.Address,
		DeliveryDetails: c.DeliveryDetails,
		ContactPerson:   c.ContactPerson,
		AssignedTour:    c.AssignedTour,
	}
}

// Index is a full-text company index.
type Index interface {
	Healthy() bool
	Search(text string, limit int) ([]string, int, error)
	IndexCompanies(records []CompanyRecord) error
	DeleteCompany(id string) error
}

// Source provides the current company collection.
type Source interface {
	Companies() []store.Company
}
