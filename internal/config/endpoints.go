package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

// DefaultMetadataPrefix is used for endpoints that do not name one.
const DefaultMetadataPrefix = "oai_dc"

// DefaultBatchSize applies when neither BATCH_SIZE nor the endpoints file sets one.
const DefaultBatchSize = 500

// EndpointsFile is the YAML document listing harvest sources.
//
//	harvester:
//	  batch_size: 500
//	endpoints:
//	  - id: dataverse-nl
//	    name: DataverseNL
//	    oai_url: https://dataverse.nl/oai
//	    metadata_prefix: oai_datacite
type EndpointsFile struct {
	Harvester struct {
		BatchSize int `yaml:"batch_size"`
	} `yaml:"harvester"`
	Endpoints []domain.Endpoint `yaml:"endpoints"`
}

// LoadEndpoints reads and validates an endpoints file.
func LoadEndpoints(path string) (*EndpointsFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	return ParseEndpoints(b)
}

// ParseEndpoints decodes an endpoints document, fills defaults and checks
// that every endpoint has a unique id and an OAI URL.
func ParseEndpoints(b []byte) (*EndpointsFile, error) {
	var f EndpointsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	if f.Harvester.BatchSize < 0 {
		return nil, errors.New("harvester.batch_size must be >= 0")
	}
	seen := make(map[string]struct{}, len(f.Endpoints))
	for i := range f.Endpoints {
		ep := &f.Endpoints[i]
		ep.ID = strings.TrimSpace(ep.ID)
		ep.OAIURL = strings.TrimSpace(ep.OAIURL)
		if ep.ID == "" {
			return nil, fmt.Errorf("endpoints[%d]: id must not be empty", i)
		}
		if _, dup := seen[ep.ID]; dup {
			return nil, fmt.Errorf("endpoints[%d]: duplicate id %q", i, ep.ID)
		}
		seen[ep.ID] = struct{}{}
		if ep.OAIURL == "" {
			return nil, fmt.Errorf("endpoint %q: oai_url must not be empty", ep.ID)
		}
		if strings.TrimSpace(ep.MetadataPrefix) == "" {
			ep.MetadataPrefix = DefaultMetadataPrefix
		}
		if strings.TrimSpace(ep.Name) == "" {
			ep.Name = ep.ID
		}
	}
	return &f, nil
}

// Find returns the endpoint with the given id.
func (f *EndpointsFile) Find(id string) (domain.Endpoint, bool) {
	for _, ep := range f.Endpoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return domain.Endpoint{}, false
}

// EffectiveBatchSize resolves the insert batch size: BATCH_SIZE wins, then
// the endpoints file, then DefaultBatchSize.
func (c Config) EffectiveBatchSize(f *EndpointsFile) int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	if f != nil && f.Harvester.BatchSize > 0 {
		return f.Harvester.BatchSize
	}
	return DefaultBatchSize
}
