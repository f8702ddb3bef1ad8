package products

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidProduct = errors.New("invalid product")

//go:embed schema/product.schema.json
var productSchemaJSON string

var (
	productSchemaOnce sync.Once
	productSchema     *jsonschema.Schema
	productSchemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	productSchemaOnce.Do(func() {
		productSchema, productSchemaErr = jsonschema.CompileString("product.schema.json", productSchemaJSON)
	})
	return productSchema, productSchemaErr
}

// ValidationError lists the user-facing message for every invalid field.
// Keys are form field names: name, description, category, price, cost,
// tax, quantity, minimumStock.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrInvalidProduct, strings.Join(msgs, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidProduct
}

type fieldRule struct {
	field    string
	messages map[string]string
	fallback string
}

// rules maps each property to its form field and messages by schema
// keyword.
var rules = map[string]fieldRule{
	"nombre": {
		field:    "name",
		messages: map[string]string{"maxLength": "Name must be at most 100 chars"},
		fallback: "Name is required (min 3 chars)",
	},
	"descripcion": {
		field:    "description",
		messages: map[string]string{"maxLength": "Description must be at most 100 chars"},
		fallback: "Description is required (min 3 chars)",
	},
	"categoria":       {field: "category", fallback: "Category is required"},
	"precio":          {field: "price", fallback: "Price must be greater than 0"},
	"costo":           {field: "cost", fallback: "Cost must be greater than 0"},
	"impuesto":        {field: "tax", fallback: "Tax must be between 0 and 100"},
	"cantidadInicial": {field: "quantity", fallback: "Quantity must be 0 or more"},
	"stockMinimo":     {field: "minimumStock", fallback: "Minimum stock must be 0 or more"},
}

// Validate checks p against the product schema before it is sent.
func (p *Product) Validate() error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile product schema: %w", err)
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}

	fields := make(map[string]string)
	if err := schema.Validate(doc); err != nil {
		var schemaErr *jsonschema.ValidationError
		if !errors.As(err, &schemaErr) {
			return err
		}
		collectFieldErrors(schemaErr, fields)
		if len(fields) == 0 {
			fields["product"] = schemaErr.Message
		}
	}
	if _, invalid := fields["quantity"]; !invalid && p.InitialQuantity < p.MinimumStock {
		fields["quantity"] = "Quantity must be at least the minimum stock"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func collectFieldErrors(err *jsonschema.ValidationError, fields map[string]string) {
	if len(err.Causes) > 0 {
		for _, cause := range err.Causes {
			collectFieldErrors(cause, fields)
		}
		return
	}

	property := strings.TrimPrefix(err.InstanceLocation, "/")
	if property == "" {
		// a missing required property is reported against the object
		for name := range rules {
			if strings.Contains(err.Message, "'"+name+"'") {
				setField(fields, name, "required")
			}
		}
		return
	}
	keyword := err.KeywordLocation[strings.LastIndex(err.KeywordLocation, "/")+1:]
	setField(fields, property, keyword)
}

func setField(fields map[string]string, property string, keyword string) {
	rule, ok := rules[property]
	if !ok {
		return
	}
	if _, exists := fields[rule.field]; exists {
		return
	}
	if msg, ok := rule.messages[keyword]; ok {
		fields[rule.field] = msg
		return
	}
	fields[rule.field] = rule.fallback
}
