package importer

import "strings"

// OnePasswordParser parses 1Password CSV export files:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
//
// The password becomes the secret; the title and login name become the
// description. Archived items are skipped.
type OnePasswordParser struct{}

const (
	op1ColTitle    = "Title"
	op1ColWebsite  = "Website"
	op1ColUsername = "Username"
	op1ColPassword = "Password"
	op1ColArchived = "Archived"
)

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
	b := newBuilder()
	err := readCSV(data, false, op1ColTitle, b, func(get func(string) string) {
		title := strings.TrimSpace(get(op1ColTitle))
		if strings.EqualFold(strings.TrimSpace(get(op1ColArchived)), "true") {
			b.skip(title, "archived")
			return
		}
		b.add(title, get(op1ColUsername), strings.TrimSpace(get(op1ColWebsite)), get(op1ColPassword))
	})
	if err != nil {
		return nil, err
	}
	return b.result, nil
}
