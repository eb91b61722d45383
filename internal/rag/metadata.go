package rag

import (
	"strings"

	"openlegalrag/internal/dataset"
	"openlegalrag/internal/vectorindex"
)

// BuildMetadata maps a case, one of its opinions and a chunk onto the flat
// metadata record. Missing fields stay empty. The bias prefix is removed from
// the stored text when chunkText starts with it.
func BuildMetadata(c dataset.Case, o dataset.Opinion, chunkText, prefix string) vectorindex.Metadata {
	text := chunkText
	if prefix != "" {
		text = strings.TrimPrefix(chunkText, prefix)
	}
	return vectorindex.Metadata{
		CaseID:            c.ID.String(),
		CaseDateFiled:     c.DateFiled,
		CaseName:          c.DisplayName(),
		CaseJudges:        c.Judges,
		CaseAttorneys:     c.Attorneys,
		CourtName:         c.CourtFullName,
		CourtType:         c.CourtType,
		CourtJurisdiction: c.CourtJurisdiction,
		OpinionID:         o.OpinionID.String(),
		OpinionAuthor:     o.AuthorStr,
		OpinionType:       o.Type,
		Text:              text,
	}
}
