// Package importer reads secret entries exported by other password
// managers and turns them into (description, secret) drafts for a vault.
// Supports plain CSV, 1Password CSV, Bitwarden JSON, and LastPass CSV.
package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html"
	"io"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/npassword/npassword/pkg/validate"
	"github.com/npassword/npassword/pkg/vault"
)

// Source names an export format.
type Source string

const (
	SourceCSV       Source = "csv"
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// Item is one entry ready to be stored.
type Item struct {
	Description string
	Secret      string

	// Original is the name the item had in the export.
	Original string
}

// Draft converts the item for vault.Manager.AddEntries.
func (i Item) Draft() vault.Draft {
	return vault.Draft{Description: i.Description, Secret: i.Secret}
}

// Result is the outcome of parsing one export.
type Result struct {
	Items    []Item
	Warnings []string
	Skipped  []SkippedItem
}

// SkippedItem is an export item that could not become an entry.
type SkippedItem struct {
	Original string
	Reason   string
}

// Drafts returns the parsed items as vault drafts, in export order.
func (r *Result) Drafts() []vault.Draft {
	drafts := make([]vault.Draft, len(r.Items))
	for i, item := range r.Items {
		drafts[i] = item.Draft()
	}
	return drafts
}

// Parser reads one export format.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Source() Source
}

// GetParser returns the parser for source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case SourceCSV:
		return &CSVParser{}, nil
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources lists the accepted source names.
func ValidSources() []string {
	return []string{
		string(SourceCSV),
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}

// SanitizeDescription folds name to a printable ASCII description:
// accents are stripped, runs of whitespace collapse to one space,
// remaining non-ASCII characters are dropped, and the result is cut to
// validate.MaxDescriptionLength.
func SanitizeDescription(name string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
		case r >= 0x20 && r <= 0x7e:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}

	s := b.String()
	if len(s) > validate.MaxDescriptionLength {
		s = strings.TrimRight(s[:validate.MaxDescriptionLength], " ")
	}
	return s
}

// FallbackDescription names an item that has no usable name: the URL's
// hostname if there is one, otherwise imported_item_N.
func FallbackDescription(url string, counter int) string {
	if url != "" {
		if host := extractHostname(url); host != "" {
			return host
		}
	}
	return fmt.Sprintf("imported_item_%d", counter)
}

func extractHostname(url string) string {
	if i := strings.Index(url, "://"); i != -1 {
		url = url[i+3:]
	}
	if i := strings.IndexAny(url, "/?#"); i != -1 {
		url = url[:i]
	}
	if i := strings.LastIndex(url, "@"); i != -1 {
		url = url[i+1:]
	}
	if i := strings.Index(url, ":"); i != -1 {
		url = url[:i]
	}
	return SanitizeDescription(strings.TrimPrefix(url, "www."))
}

// DecodeHTMLEntities decodes the entities LastPass writes into its exports.
func DecodeHTMLEntities(s string) string {
	return html.UnescapeString(s)
}

// IsEmptyOrWhitespace reports whether s holds nothing but whitespace.
func IsEmptyOrWhitespace(s string) bool {
	return strings.TrimFunc(s, unicode.IsSpace) == ""
}

// Filter keeps the items whose description matches at least one glob
// pattern (path.Match syntax). No patterns keeps everything.
func Filter(items []Item, patterns []string) ([]Item, error) {
	if len(patterns) == 0 {
		return items, nil
	}
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", p, err)
		}
	}

	var kept []Item
	for _, item := range items {
		for _, p := range patterns {
			if ok, _ := path.Match(p, item.Description); ok {
				kept = append(kept, item)
				break
			}
		}
	}
	return kept, nil
}

// builder accumulates items and numbers fallback descriptions.
type builder struct {
	result  *Result
	counter int
}

func newBuilder() *builder {
	return &builder{
		result: &Result{
			Items:    make([]Item, 0),
			Warnings: make([]string, 0),
			Skipped:  make([]SkippedItem, 0),
		},
		counter: 1,
	}
}

// add turns one export item into an entry. label is the item's display
// name, detail an optional login name shown after it, url a fallback name
// source. It records a skip instead when the secret cannot be stored.
func (b *builder) add(label, detail, url, secret string) {
	original := label
	if original == "" {
		original = url
	}

	if IsEmptyOrWhitespace(secret) {
		b.skip(original, "no password")
		return
	}
	if _, err := validate.Secret(secret); err != nil {
		b.skip(original, fmt.Sprintf("password cannot be stored: %v", err))
		return
	}

	description := SanitizeDescription(label)
	if description == "" && url != "" {
		description = extractHostname(url)
	}
	if description == "" {
		description = FallbackDescription("", b.counter)
		b.counter++
	}
	if d := SanitizeDescription(detail); d != "" {
		description = SanitizeDescription(description + " (" + d + ")")
	}

	b.result.Items = append(b.result.Items, Item{
		Description: description,
		Secret:      secret,
		Original:    label,
	})
}

func (b *builder) skip(original, reason string) {
	b.result.Skipped = append(b.result.Skipped, SkippedItem{Original: original, Reason: reason})
}

func (b *builder) warn(format string, args ...any) {
	b.result.Warnings = append(b.result.Warnings, fmt.Sprintf(format, args...))
}

// readCSV reads a header-first CSV export and calls row for every data
// row with a column getter. Header names are lowercased when fold is set.
func readCSV(data []byte, fold bool, required string, b *builder, row func(get func(col string) string)) error {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if fold {
			col = strings.ToLower(col)
		}
		colIndex[col] = i
	}
	if _, ok := colIndex[required]; !ok {
		return fmt.Errorf("missing required column: %s", required)
	}

	rowNum := 1
	for {
		rowNum++
		rec, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			b.warn("row %d: failed to parse: %v", rowNum, err)
			continue
		}
		if len(rec) != len(header) {
			b.warn("row %d: column count mismatch (expected %d, got %d)", rowNum, len(header), len(rec))
			continue
		}
		row(func(col string) string {
			if i, ok := colIndex[col]; ok {
				return rec[i]
			}
			return ""
		})
	}
}
