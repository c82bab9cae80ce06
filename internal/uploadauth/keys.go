// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package uploadauth

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type APIKey struct {
	Name        string `json:"name" yaml:"name"`
	Key         string `json:"key" yaml:"key"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type keyFile struct {
	APIKeys []APIKey `yaml:"apikeys,omitempty"`
}

// KeyProvider decides who may start an upload.
type KeyProvider interface {
	// Lookup returns the key's owner, without the key itself, or false.
	Lookup(apiKey string) (APIKey, bool)
}

type staticKeys struct {
	keys []APIKey
}

var _ KeyProvider = (*staticKeys)(nil)

// NewStaticKeys serves a fixed key list. An empty list rejects everything.
func NewStaticKeys(keys ...APIKey) KeyProvider {
	var kept []APIKey
	for _, k := range keys {
		if k.Key != "" {
			kept = append(kept, k)
		}
	}
	return &staticKeys{keys: kept}
}

// LoadKeys reads a YAML key list from filename. A filename of the form
// env:NAME reads the YAML from that environment variable instead. single,
// when set, is added as a key named "default".
func LoadKeys(filename, single string) (KeyProvider, error) {
	var keys []APIKey
	if filename != "" {
		var contents []byte
		if envVar, ok := strings.CutPrefix(filename, "env:"); ok {
			contents = []byte(os.Getenv(envVar))
			if len(contents) == 0 {
				return nil, fmt.Errorf("environment variable %s is not set", envVar)
			}
		} else {
			var err error
			contents, err = os.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("failed to read api keys from %s: %w", filename, err)
			}
		}
		var kf keyFile
		dec := yaml.NewDecoder(bytes.NewReader(contents))
		dec.KnownFields(false)
		if err := dec.Decode(&kf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal api keys from %s: %w", filename, err)
		}
		keys = kf.APIKeys
	}
	if single != "" {
		keys = append(keys, APIKey{Name: "default", Key: single})
	}
	return NewStaticKeys(keys...), nil
}

func (p *staticKeys) Lookup(apiKey string) (APIKey, bool) {
	if apiKey == "" {
		return APIKey{}, false
	}
	for _, k := range p.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(apiKey)) == 1 {
			return APIKey{Name: k.Name, Description: k.Description}, true
		}
	}
	return APIKey{}, false
}
