package audit

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/audit-trail/internal/db/models"
)

func TestTemplateRegistry_RenderPayment(t *testing.T) {
	r := NewTemplateRegistry()
	got := r.Render("payment.recorded", map[string]interface{}{"name": "Ana", "amount": 150})
	assert.Equal(t, "Ana paid 150", got)
}

func TestTemplateRegistry_RenderFromDecodedParams(t *testing.T) {
	var p models.Params
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Ana","amount":150.50}`), &p))
	assert.Equal(t, "Ana paid 150.50", NewTemplateRegistry().Render("payment.recorded", p))
}

func TestTemplateRegistry_UnknownKeyIsOwnTemplate(t *testing.T) {
	r := NewTemplateRegistry()
	assert.Equal(t, "custom.thing", r.Lookup("custom.thing"))
	assert.Equal(t, "Moved Ana", r.Render("Moved {name}", map[string]interface{}{"name": "Ana"}))
}

func TestTemplateRegistry_Register(t *testing.T) {
	r := NewTemplateRegistry()
	r.Register("payment.recorded", "{amount} received from {name}")
	r.Register("library.book_returned", "{name} returned {title}")

	assert.Equal(t, "150 received from Ana", r.Render("payment.recorded", map[string]interface{}{"name": "Ana", "amount": 150}))
	assert.Equal(t, "Ana returned Dune", r.Render("library.book_returned", map[string]interface{}{"name": "Ana", "title": "Dune"}))
}

func TestTemplateRegistry_EntriesSorted(t *testing.T) {
	r := NewTemplateRegistry()
	entries := r.Entries()
	require.Len(t, entries, len(defaultTemplates))
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Key, entries[i].Key)
	}
}

func TestTemplateRegistry_ConcurrentUse(t *testing.T) {
	r := NewTemplateRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("concurrent.key", "{name}")
		}()
		go func() {
			defer wg.Done()
			_ = r.Render("payment.recorded", map[string]interface{}{"name": "x"})
		}()
	}
	wg.Wait()
	assert.Equal(t, "y", r.Render("concurrent.key", map[string]interface{}{"name": "y"}))
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]interface{}
		want     string
	}{
		{"no params", "Hello {name}", nil, "Hello {name}"},
		{"unmatched placeholder kept", "{name} paid {amount}", map[string]interface{}{"name": "Ana"}, "Ana paid {amount}"},
		{"repeated placeholder", "{a}-{a}", map[string]interface{}{"a": "x"}, "x-x"},
		{"integer float", "{n}", map[string]interface{}{"n": 150.0}, "150"},
		{"fraction", "{n}", map[string]interface{}{"n": 12.5}, "12.5"},
		{"int", "{n}", map[string]interface{}{"n": 7}, "7"},
		{"json number", "{n}", map[string]interface{}{"n": json.Number("1e3")}, "1e3"},
		{"bool", "{ok}", map[string]interface{}{"ok": true}, "true"},
		{"null", "[{v}]", map[string]interface{}{"v": nil}, "[]"},
		{"nested object", "{v}", map[string]interface{}{"v": map[string]interface{}{"a": 1}}, `{"a":1}`},
		{"array", "{v}", map[string]interface{}{"v": []interface{}{"a", "b"}}, `["a","b"]`},
		{"dotted key", "{student.name}", map[string]interface{}{"student.name": "Ben"}, "Ben"},
		{"braces without name", "{} and { }", map[string]interface{}{"x": 1}, "{} and { }"},
		{"hyphenated key", "{first-name} paid {amount}", map[string]interface{}{"first-name": "Ali", "amount": 50}, "Ali paid 50"},
		{"key with space", "{student name} joined", map[string]interface{}{"student name": "Sara"}, "Sara joined"},
		{"non-ascii key", "{الاسم} حضر", map[string]interface{}{"الاسم": "Omar"}, "Omar حضر"},
		{"nested braces", "{{name}}", map[string]interface{}{"name": "Ana"}, "{Ana}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.template, tt.params))
		})
	}
}
