package importer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BitwardenParser parses Bitwarden JSON export files. Only login items
// carry a password; notes, cards and identities are skipped.
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

type bitwardenExport struct {
	Encrypted bool            `json:"encrypted"`
	Items     []bitwardenItem `json:"items"`
}

type bitwardenItem struct {
	Type  int             `json:"type"`
	Name  string          `json:"name"`
	Login *bitwardenLogin `json:"login"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("encrypted Bitwarden exports are not supported")
	}

	b := newBuilder()
	for i := range export.Items {
		item := &export.Items[i]
		name := strings.TrimSpace(item.Name)

		switch item.Type {
		case bitwardenTypeLogin:
		case bitwardenTypeSecureNote:
			b.skip(name, "secure note")
			continue
		case bitwardenTypeCard:
			b.skip(name, "card")
			continue
		case bitwardenTypeIdentity:
			b.skip(name, "identity")
			continue
		default:
			b.warn("item %d (%s): unsupported item type: %d", i+1, name, item.Type)
			continue
		}

		if item.Login == nil {
			b.skip(name, "no password")
			continue
		}
		var url string
		for _, u := range item.Login.URIs {
			if u.URI != "" {
				url = strings.TrimSpace(u.URI)
				break
			}
		}
		b.add(name, item.Login.Username, url, item.Login.Password)
	}
	return b.result, nil
}
