package pubmed

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
)

// ESearchResult is the response from the esearch.fcgi endpoint.
type ESearchResult struct {
	XMLName   xml.Name   `xml:"eSearchResult"`
	Count     int        `xml:"Count"`
	RetMax    int        `xml:"RetMax"`
	RetStart  int        `xml:"RetStart"`
	IDList    IDList     `xml:"IdList"`
	ErrorList *ErrorList `xml:"ErrorList"`
}

// IDList contains the PMIDs returned by a search.
type IDList struct {
	IDs []string `xml:"Id"`
}

// ErrorList contains query terms the search could not resolve.
type ErrorList struct {
	PhraseNotFound []string `xml:"PhraseNotFound"`
}

// ESummaryResponse is the response from the esummary.fcgi endpoint
// in JSON mode. The result object maps each UID to its document summary,
// alongside a "uids" array preserving the request order.
type ESummaryResponse struct {
	Result ESummaryResult `json:"result"`
}

// ESummaryResult holds the ordered UID list and the per-UID summaries.
type ESummaryResult struct {
	UIDs []string
	Docs map[string]SummaryDoc
}

// UnmarshalJSON splits the esummary result object into the uids array and
// the per-UID summary documents keyed by UID.
func (r *ESummaryResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if uids, ok := raw["uids"]; ok {
		if err := json.Unmarshal(uids, &r.UIDs); err != nil {
			return fmt.Errorf("parse uids: %w", err)
		}
	}

	r.Docs = make(map[string]SummaryDoc, len(r.UIDs))
	for key, msg := range raw {
		if key == "uids" {
			continue
		}
		var doc SummaryDoc
		if err := json.Unmarshal(msg, &doc); err != nil {
			// Entries that are not summary documents (e.g. error strings)
			// are skipped; the UID is then treated as having no summary.
			continue
		}
		r.Docs[key] = doc
	}
	return nil
}

// SummaryDoc is one document summary from esummary.
type SummaryDoc struct {
	UID             string `json:"uid"`
	Title           string `json:"title"`
	PubDate         string `json:"pubdate"`
	EPubDate        string `json:"epubdate"`
	FullJournalName string `json:"fulljournalname"`
}

// PubmedArticleSet is the response from efetch.fcgi with db=pubmed.
// Only the fields needed for abstract extraction are mapped.
type PubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []PubmedArticle `xml:"PubmedArticle"`
}

// PubmedArticle is one article in an efetch response.
type PubmedArticle struct {
	MedlineCitation MedlineCitation `xml:"MedlineCitation"`
}

// MedlineCitation holds the citation body of an article.
type MedlineCitation struct {
	PMID    PMID    `xml:"PMID"`
	Article Article `xml:"Article"`
}

// PMID is the PubMed identifier element.
type PMID struct {
	Value string `xml:",chardata"`
}

// Article holds the title and abstract of a citation.
type Article struct {
	ArticleTitle string    `xml:"ArticleTitle"`
	Abstract     *Abstract `xml:"Abstract"`
}

// Abstract contains one or more labeled abstract sections.
type Abstract struct {
	AbstractTexts []AbstractText `xml:"AbstractText"`
}

// AbstractText is one section of an abstract.
type AbstractText struct {
	Label string `xml:"Label,attr"`
	Value string `xml:",chardata"`
}

// ELinkResponse is the response from elink.fcgi in JSON mode.
type ELinkResponse struct {
	LinkSets []LinkSet `json:"linksets"`
}

// LinkSet holds the links resolved for one set of input IDs.
type LinkSet struct {
	DBFrom     string      `json:"dbfrom"`
	IDs        []string    `json:"ids"`
	LinkSetDBs []LinkSetDB `json:"linksetdbs"`
}

// LinkSetDB holds the linked IDs in one target database.
type LinkSetDB struct {
	DBTo     string   `json:"dbto"`
	LinkName string   `json:"linkname"`
	Links    []string `json:"links"`
}
