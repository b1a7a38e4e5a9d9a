package store

import "slices"

// Collection paths in the document store.
const (
	PathCompanies = "companies"
	PathSOPSteps  = "sopSteps"
)

// Company is a delivery destination.
type Company struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Address         string   `json:"address"`
	DeliveryDetails string   `json:"deliveryDetails"`
	Images          []string `json:"images"`
	ContactPerson   string   `json:"contactPerson"`
	PhoneNumber     string   `json:"phoneNumber"`
	AssignedTour    string   `json:"assignedTour"`
}

// Clone returns a copy that shares no slices with c.
func (c Company) Clone() Company {
	c.Images = slices.Clone(c.Images)
	if c.Images == nil {
		c.Images = []string{}
	}
	return c
}

// SOPStep is one page of the training guide. ID doubles as display order.
type SOPStep struct {
	ID     int      `json:"id"`
	Title  string   `json:"title"`
	Points []string `json:"points"`
	Image  string   `json:"image,omitempty"`
}

func (s SOPStep) Clone() SOPStep {
	s.Points = slices.Clone(s.Points)
	return s
}

// CloneCompanies deep-copies a company list. A nil input yields an empty list.
func CloneCompanies(in []Company) []Company {
	out := make([]Company, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

func CloneSOPSteps(in []SOPStep) []SOPStep {
	out := make([]SOPStep, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// View is a top-level screen of the client.
type View string

const (
	ViewDashboard  View = "dashboard"
	ViewCompanies  View = "companies"
	ViewTraining   View = "training"
	ViewDriverView View = "driver-view"
	ViewSettings   View = "settings"
)

var views = []View{ViewDashboard, ViewCompanies, ViewTraining, ViewDriverView, ViewSettings}

// ParseView returns the view named by s and whether it is known.
func ParseView(s string) (View, bool) {
	for _, v := range views {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}
