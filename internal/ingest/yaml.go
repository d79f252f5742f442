package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// yamlFile is the document shape:
//
//	countries:
//	  - code: USA
//	    name: United States
//	    internet_users: 87.5
//	    adult_literacy_rate: ~
type yamlFile struct {
	Countries []yaml.Node `yaml:"countries"`
}

// yamlCountry keeps the rates as raw nodes so 87.50 is read as the decimal
// text the author wrote, never through float64.
type yamlCountry struct {
	Code              string    `yaml:"code"`
	Name              string    `yaml:"name"`
	InternetUsers     yaml.Node `yaml:"internet_users"`
	AdultLiteracyRate yaml.Node `yaml:"adult_literacy_rate"`
}

// ParseYAML reads a country batch from a YAML document with a top-level
// countries list.
func ParseYAML(r io.Reader) (*Batch, error) {
	var doc yamlFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &Batch{}, nil
		}
		return nil, fmt.Errorf("%w: malformed yaml: %w", country.ErrInvalidValue, err)
	}

	batch := &Batch{}
	for i := range doc.Countries {
		node := &doc.Countries[i]

		var yc yamlCountry
		if err := node.Decode(&yc); err != nil {
			batch.fail(node.Line, "", err)
			continue
		}

		c, err := yc.build()
		if err != nil {
			batch.fail(node.Line, yc.Code, err)
			continue
		}
		batch.Rows = append(batch.Rows, Row{Line: node.Line, Country: c})
	}
	return batch, nil
}

func (yc yamlCountry) build() (country.Country, error) {
	internet, err := nodeRate(&yc.InternetUsers)
	if err != nil {
		return country.Country{}, fmt.Errorf("%s: %w", country.FieldInternetUsers, err)
	}
	literacy, err := nodeRate(&yc.AdultLiteracyRate)
	if err != nil {
		return country.Country{}, fmt.Errorf("%s: %w", country.FieldAdultLiteracyRate, err)
	}
	return country.New(
		strings.ToUpper(strings.TrimSpace(yc.Code)),
		strings.TrimSpace(yc.Name),
		country.WithInternetUsers(internet),
		country.WithAdultLiteracyRate(literacy),
	)
}

// nodeRate converts a scalar node to a rate. A missing key or an explicit
// null is "not measured".
func nodeRate(n *yaml.Node) (pgtype.Numeric, error) {
	if n.Kind == 0 || n.Tag == "!!null" {
		return pgtype.Numeric{}, nil
	}
	if n.Kind != yaml.ScalarNode {
		return pgtype.Numeric{}, fmt.Errorf("%w: expected a number at line %d", country.ErrInvalidValue, n.Line)
	}
	return ToNumeric(n.Value)
}
