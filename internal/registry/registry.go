// Package registry edits the company collection through full-collection
// commits.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"logistics/api/internal/store"
)

var (
	ErrNotFound             = errors.New("company not found")
	ErrInvalidDraft         = errors.New("company name and address are required")
	ErrConfirmationRequired = errors.New("deletion requires confirmation")
	ErrImageIndex           = errors.New("image index out of range")
)

// LookupLimit caps the dashboard quick lookup.
const LookupLimit = 8

// Companies is the part of the sync controller the editor needs.
type Companies interface {
	Companies() []store.Company
	CommitCompanies(ctx context.Context, companies []store.Company) error
}

type Editor struct {
	companies Companies
}

func NewEditor(companies Companies) *Editor {
	return &Editor{companies: companies}
}

// List returns the companies matching filter in collection order.
func (e *Editor) List(filter string) []store.Company {
	return Filter(e.companies.Companies(), filter)
}

// Lookup is List capped at LookupLimit. An empty query finds nothing.
func (e *Editor) Lookup(query string) []store.Company {
	if strings.TrimSpace(query) == "" {
		return []store.Company{}
	}
	found := e.List(query)
	if len(found) > LookupLimit {
		found = found[:LookupLimit]
	}
	return found
}

// View returns the company with id.
func (e *Editor) View(id string) (store.Company, error) {
	companies := e.companies.Companies()
	idx := indexOf(companies, id)
	if idx < 0 {
		return store.Company{}, ErrNotFound
	}
	return companies[idx], nil
}

// Edit returns a draft copy of the company. Changes to the draft are lost
// unless passed to Save.
func (e *Editor) Edit(id string) (store.Company, error) {
	c, err := e.View(id)
	if err != nil {
		return store.Company{}, err
	}
	return c.Clone(), nil
}

// Save replaces the stored company that has draft's id.
func (e *Editor) Save(ctx context.Context, draft store.Company) error {
	if err := ValidateDraft(draft); err != nil {
		return err
	}
	companies := e.companies.Companies()
	idx := indexOf(companies, draft.ID)
	if idx < 0 {
		return ErrNotFound
	}
	companies[idx] = draft.Clone()
	return e.companies.CommitCompanies(ctx, companies)
}

// ValidateDraft checks the fields a saved company must carry.
func ValidateDraft(draft store.Company) error {
	if strings.TrimSpace(draft.Name) == "" || strings.TrimSpace(draft.Address) == "" {
		return ErrInvalidDraft
	}
	return nil
}

// Delete removes the company with id. Nothing changes unless confirmed.
func (e *Editor) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	companies := e.companies.Companies()
	idx := indexOf(companies, id)
	if idx < 0 {
		return ErrNotFound
	}
	companies = append(companies[:idx], companies[idx+1:]...)
	return e.companies.CommitCompanies(ctx, companies)
}

// AttachImage appends an encoded image to the company's carousel.
func (e *Editor) AttachImage(ctx context.Context, id, image string) error {
	if image == "" {
		return fmt.Errorf("%w: empty image", ErrInvalidDraft)
	}
	companies := e.companies.Companies()
	idx := indexOf(companies, id)
	if idx < 0 {
		return ErrNotFound
	}
	companies[idx].Images = append(companies[idx].Images, image)
	return e.companies.CommitCompanies(ctx, companies)
}

// RemoveImage drops the image at index and returns cursor clamped to the
// remaining images. The clamped cursor is returned even when the commit fails,
// since the mirror already holds the shorter list.
func (e *Editor) RemoveImage(ctx context.Context, id string, index, cursor int) (int, error) {
	companies := e.companies.Companies()
	idx := indexOf(companies, id)
	if idx < 0 {
		return cursor, ErrNotFound
	}
	images := companies[idx].Images
	if index < 0 || index >= len(images) {
		return cursor, ErrImageIndex
	}
	companies[idx].Images = append(images[:index], images[index+1:]...)
	next := ClampCursor(cursor, len(companies[idx].Images))
	return next, e.companies.CommitCompanies(ctx, companies)
}

// Append adds an import batch after the existing companies.
func (e *Editor) Append(ctx context.Context, batch []store.Company) error {
	companies := e.companies.Companies()
	for _, c := range batch {
		companies = append(companies, c.Clone())
	}
	return e.companies.CommitCompanies(ctx, companies)
}

// Filter keeps companies whose name or address contains query, ignoring case.
func Filter(companies []store.Company, query string) []store.Company {
	out := make([]store.Company, 0, len(companies))
	needle := strings.ToLower(query)
	for _, c := range companies {
		if needle == "" ||
			strings.Contains(strings.ToLower(c.Name), needle) ||
			strings.Contains(strings.ToLower(c.Address), needle) {
			out = append(out, c)
		}
	}
	return out
}

// HasDeliveryInfo reports whether drivers have anything beyond the address.
func HasDeliveryInfo(c store.Company) bool {
	return c.DeliveryDetails != "" || len(c.Images) > 0
}

func indexOf(companies []store.Company, id string) int {
	for i := range companies {
		if companies[i].ID == id {
			return i
		}
	}
	return -1
}
