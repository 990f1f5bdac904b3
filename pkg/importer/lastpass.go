package importer

import "strings"

// LastPassParser parses LastPass CSV export files:
// url,username,password,totp,extra,name,grouping,fav
//
// LastPass HTML-encodes some characters and marks secure notes with the
// URL "http://sn"; notes carry no password and are skipped.
type LastPassParser struct{}

const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColName     = "name"

	lpSecureNoteURL = "http://sn"
)

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	b := newBuilder()
	err := readCSV(data, true, lpColName, b, func(get func(string) string) {
		name := DecodeHTMLEntities(strings.TrimSpace(get(lpColName)))
		url := DecodeHTMLEntities(strings.TrimSpace(get(lpColURL)))
		if url == lpSecureNoteURL {
			b.skip(name, "secure note")
			return
		}
		b.add(name, DecodeHTMLEntities(get(lpColUsername)), url, DecodeHTMLEntities(get(lpColPassword)))
	})
	if err != nil {
		return nil, err
	}
	return b.result, nil
}
