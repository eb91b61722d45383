package dataset

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID accepts both numeric and string ids, as COLD Cases exports use either.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type Opinion struct {
	OpinionID   ID     `json:"opinion_id"`
	AuthorStr   string `json:"author_str"`
	OpinionText string `json:"opinion_text"`
	Type        string `json:"type"`
}

// Case is one COLD Cases record with its opinions.
type Case struct {
	ID                ID        `json:"id"`
	CaseName          string    `json:"case_name"`
	CaseNameFull      string    `json:"case_name_full"`
	DateFiled         string    `json:"date_filed"`
	Judges            string    `json:"judges"`
	Attorneys         string    `json:"attorneys"`
	CourtShortName    string    `json:"court_short_name"`
	CourtFullName     string    `json:"court_full_name"`
	CourtType         string    `json:"court_type"`
	CourtJurisdiction string    `json:"court_jurisdiction"`
	Opinions          []Opinion `json:"opinions"`
}

// YearFiled parses the leading year of DateFiled ("1987-03-02" -> 1987).
func (c Case) YearFiled() (int, bool) {
	date := strings.TrimSpace(c.DateFiled)
	if len(date) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}

// DisplayName falls back to the full case name when the short one is missing.
func (c Case) DisplayName() string {
	if c.CaseName != "" {
		return c.CaseName
	}
	return c.CaseNameFull
}
