package importer

// CSVParser parses a plain two-column export:
// description,secret
type CSVParser struct{}

const (
	csvColDescription = "description"
	csvColSecret      = "secret"
)

// Source returns the source type for this parser.
func (p *CSVParser) Source() Source {
	return SourceCSV
}

// Parse parses plain CSV data. The header row is required; column names
// are matched case-insensitively.
func (p *CSVParser) Parse(data []byte) (*Result, error) {
	b := newBuilder()
	err := readCSV(data, true, csvColDescription, b, func(get func(string) string) {
		b.add(get(csvColDescription), "", "", get(csvColSecret))
	})
	if err != nil {
		return nil, err
	}
	return b.result, nil
}
