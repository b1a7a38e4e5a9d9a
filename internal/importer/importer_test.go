package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/api/internal/store"
)

type fakeRegistry struct {
	companies []store.Company
	appendErr error
	calls     int
}

func (f *fakeRegistry) Append(_ context.Context, batch []store.Company) error {
	f.calls++
	if f.appendErr != nil {
		return f.appendErr
	}
	f.companies = append(f.companies, batch...)
	return nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + strings.Repeat("x", n)
	}
}

func newTestImporter(reg Appender) (*Importer, time.Time) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	imp := New(reg, 3*time.Second, nil)
	imp.now = func() time.Time { return now }
	imp.newID = sequentialIDs()
	return imp, now
}

func TestProcessJSONAcmeExample(t *testing.T) {
	text := `[{"name":"Acme","address":"1 Main St","phone":"+1 555-0100, +1 555-0101"}]`
	companies, err := ProcessJSON(text, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, companies, 1)

	c := companies[0]
	assert.Equal(t, "id-x", c.ID)
	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, "1 Main St", c.Address)
	assert.Equal(t, "", c.ContactPerson)
	assert.Equal(t, "+1 555-0100, +1 555-0101", c.PhoneNumber)
	assert.Equal(t, []string{}, c.Images)
}

func TestProcessJSONAliasPriority(t *testing.T) {
	text := `[{
		"name": "Omio", "address": "Park 4", "id": "ignored",
		"instruction": "third", "deliveryDetails": "second", "details": "",
		"contact": "Max", "person": "Erika",
		"mobile": 1715550100,
		"tour": "T7",
		"images": ["data:image/png;base64,AA", 3, ""]
	}]`
	companies, err := ProcessJSON(text, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, companies, 1)

	c := companies[0]
	assert.Equal(t, "id-x", c.ID)
	assert.Equal(t, "second", c.DeliveryDetails)
	assert.Equal(t, "Erika", c.ContactPerson)
	assert.Equal(t, "1715550100", c.PhoneNumber)
	assert.Equal(t, "T7", c.AssignedTour)
	assert.Equal(t, []string{"data:image/png;base64,AA"}, c.Images)
}

func TestProcessJSONFreshIDs(t *testing.T) {
	text := `[{"name":"A","address":"x"},{"name":"B","address":"y"}]`
	companies, err := ProcessJSON(text, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.NotEqual(t, companies[0].ID, companies[1].ID)
}

func TestProcessJSONParseErrors(t *testing.T) {
	cases := map[string]string{
		"syntax":           `[{"name":`,
		"object":           `{"name":"Acme"}`,
		"string":           `"companies"`,
		"trailing":         `[] []`,
		"trailing bracket": `[{"name":"A","address":"B"}]]`,
		"trailing brace":   `[{"name":"A","address":"B"}]}`,
		"trailing word":    `[] x`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ProcessJSON(text, sequentialIDs())
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}

	_, err := ProcessJSON(`{"a":1}`, sequentialIDs())
	assert.EqualError(t, err, "Invalid format: Expected an array of objects.")
}

func TestProcessJSONValidation(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		index int
		field string
	}{
		{"missing name", `[{"address":"1 Main St"}]`, 0, "name"},
		{"empty address", `[{"name":"A","address":"x"},{"name":"B","address":""}]`, 1, "address"},
		{"name before address", `[{"name":"A","address":"x"},{},{"name":"C"}]`, 1, "name"},
		{"not an object", `[{"name":"A","address":"x"},42]`, 1, "name"},
		{"zero name", `[{"name":0,"address":"x"}]`, 0, "name"},
		{"boolean address", `[{"name":"A","address":true}]`, 0, "address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ProcessJSON(tc.text, sequentialIDs())
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.index, verr.Index)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestProcessJSONNumericFields(t *testing.T) {
	companies, err := ProcessJSON(`[{"name":42,"address":1.5}]`, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "42", companies[0].Name)
	assert.Equal(t, "1.5", companies[0].Address)

	_, err = ProcessJSON(`[{"name":"A","address":"B"}]  `, sequentialIDs())
	assert.NoError(t, err, "trailing whitespace is not trailing data")
}

func TestSubmitMergesAndClearsBuffer(t *testing.T) {
	reg := &fakeRegistry{companies: []store.Company{{ID: "old", Name: "Old", Address: "Road"}}}
	imp, now := newTestImporter(reg)

	form, batch, err := imp.Submit(context.Background(), Form{Buffer: `[{"name":"Acme","address":"1 Main St"}]`})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Len(t, reg.companies, 2)
	assert.Equal(t, "old", reg.companies[0].ID)
	assert.Empty(t, form.Buffer)

	require.NotNil(t, form.Notice)
	assert.Equal(t, NoticeSuccess, form.Notice.Kind)
	assert.Equal(t, "Successfully imported!", form.Notice.Message)
	assert.True(t, form.Notice.Visible(now.Add(2*time.Second)))
	assert.False(t, form.Notice.Visible(now.Add(3*time.Second)))
	assert.Nil(t, form.Prune(now.Add(5*time.Second)).Notice)
}

func TestSubmitMissingNameLeavesCollection(t *testing.T) {
	reg := &fakeRegistry{}
	imp, now := newTestImporter(reg)

	input := `[{"address":"1 Main St"}]`
	form, _, err := imp.Submit(context.Background(), Form{Buffer: input})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, verr.Index)
	assert.Equal(t, "name", verr.Field)
	assert.Zero(t, reg.calls)
	assert.Empty(t, reg.companies)
	assert.Equal(t, input, form.Buffer)
	require.NotNil(t, form.Notice)
	assert.Equal(t, NoticeError, form.Notice.Kind)
	assert.True(t, form.Notice.Visible(now.Add(time.Hour)))
}

func TestSubmitEmptyBuffer(t *testing.T) {
	reg := &fakeRegistry{}
	imp, _ := newTestImporter(reg)

	form, _, err := imp.Submit(context.Background(), Form{Buffer: "  \n"})
	assert.ErrorIs(t, err, ErrEmptyInput)
	require.NotNil(t, form.Notice)
	assert.Equal(t, "Please paste some JSON data first.", form.Notice.Message)
	assert.Zero(t, reg.calls)
}

func TestSubmitCommitFailureKeepsBuffer(t *testing.T) {
	cause := errors.New("Failed to save to cloud. Check your connection.")
	reg := &fakeRegistry{appendErr: cause}
	imp, _ := newTestImporter(reg)

	input := `[{"name":"Acme","address":"1 Main St"}]`
	form, _, err := imp.Submit(context.Background(), Form{Buffer: input})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, input, form.Buffer)
	assert.Equal(t, cause.Error(), form.Notice.Message)
}

func TestSubmitFileUsesSameRules(t *testing.T) {
	reg := &fakeRegistry{}
	imp, _ := newTestImporter(reg)

	form, batch, err := imp.SubmitFile(context.Background(), Form{}, strings.NewReader(`[{"name":"Acme","address":"1 Main St","tour":"T1"}]`))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "T1", batch[0].AssignedTour)
	assert.Equal(t, NoticeSuccess, form.Notice.Kind)

	_, _, err = imp.SubmitFile(context.Background(), Form{}, strings.NewReader(`{"name":"x"}`))
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Len(t, reg.companies, 1)
}

func TestNilNoticeIsHidden(t *testing.T) {
	var n *Notice
	assert.False(t, n.Visible(time.Now()))
}
