package pubmed

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// esearch JSON envelope.
type esearchResponse struct {
	Result *struct {
		Count     string   `json:"count"`
		IDList    []string `json:"idlist"`
		WebEnv    string   `json:"webenv"`
		QueryKey  string   `json:"querykey"`
		ErrorList *struct {
			PhrasesNotFound []string `json:"phrasesnotfound"`
			FieldsNotFound  []string `json:"fieldsnotfound"`
		} `json:"errorlist"`
		Error string `json:"ERROR"`
	} `json:"esearchresult"`
	Error string `json:"error"`
}

func validateSearch(body []byte) error {
	var r esearchResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return err
	}
	if r.Result == nil && r.Error == "" {
		return fmt.Errorf("missing esearchresult")
	}
	return nil
}

func parseSearch(body []byte) (SearchResult, error) {
	var r esearchResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return SearchResult{}, fmt.Errorf("decoding esearch: %w", err)
	}
	if r.Error != "" {
		return SearchResult{}, fmt.Errorf("esearch: %s", r.Error)
	}
	if r.Result == nil {
		return SearchResult{}, fmt.Errorf("esearch: missing esearchresult")
	}
	if r.Result.Error != "" {
		return SearchResult{}, fmt.Errorf("esearch: %s", r.Result.Error)
	}
	count, _ := strconv.Atoi(r.Result.Count)
	return SearchResult{
		Count:    count,
		IDs:      r.Result.IDList,
		WebEnv:   r.Result.WebEnv,
		QueryKey: r.Result.QueryKey,
	}, nil
}

// text collects the character data of an element and all of its
// descendants, so inline markup like <i> or <sup> does not truncate it.
type text string

func (t *text) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(v)
		}
	}
	*t = text(strings.Join(strings.Fields(sb.String()), " "))
	return nil
}

type labelledText struct {
	Label string
	Text  text
}

func (l *labelledText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		if a.Name.Local == "Label" {
			l.Label = a.Value
		}
	}
	return l.Text.UnmarshalXML(d, start)
}

type articleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Journal struct {
				Title string `xml:"Title"`
				Issue struct {
					PubDate struct {
						Year        string `xml:"Year"`
						Month       string `xml:"Month"`
						Day         string `xml:"Day"`
						MedlineDate string `xml:"MedlineDate"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
			Title    text           `xml:"ArticleTitle"`
			Abstract []labelledText `xml:"Abstract>AbstractText"`
			Authors  []struct {
				LastName       string `xml:"LastName"`
				ForeName       string `xml:"ForeName"`
				Initials       string `xml:"Initials"`
				CollectiveName text   `xml:"CollectiveName"`
				Affiliations   []text `xml:"AffiliationInfo>Affiliation"`
			} `xml:"AuthorList>Author"`
			PublicationTypes []string `xml:"PublicationTypeList>PublicationType"`
			ELocations       []struct {
				Type  string `xml:"EIdType,attr"`
				Value string `xml:",chardata"`
			} `xml:"ELocationID"`
		} `xml:"Article"`
		Mesh []struct {
			Descriptor string `xml:"DescriptorName"`
		} `xml:"MeshHeadingList>MeshHeading"`
		Keywords []text `xml:"KeywordList>Keyword"`
	} `xml:"MedlineCitation"`
	Data struct {
		IDs []struct {
			Type  string `xml:"IdType,attr"`
			Value string `xml:",chardata"`
		} `xml:"ArticleIdList>ArticleId"`
	} `xml:"PubmedData"`
}

func validateArticles(body []byte) error {
	var set articleSet
	return xml.Unmarshal(body, &set)
}

// parseArticles decodes an efetch PubmedArticleSet. Records without a
// PMID are skipped.
func parseArticles(body []byte) ([]model.Article, error) {
	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decoding efetch: %w", err)
	}

	articles := make([]model.Article, 0, len(set.Articles))
	for _, pa := range set.Articles {
		mc := pa.Citation
		pmid := strings.TrimSpace(mc.PMID)
		if pmid == "" {
			continue
		}
		a := model.Article{
			PMID:             pmid,
			Title:            string(mc.Article.Title),
			Journal:          strings.TrimSpace(mc.Article.Journal.Title),
			PublicationDate:  pubDate(pa),
			PublicationTypes: normalizeTypes(mc.Article.PublicationTypes),
		}

		var abstract []string
		for _, s := range mc.Article.Abstract {
			if s.Text == "" {
				continue
			}
			if s.Label != "" && len(mc.Article.Abstract) > 1 {
				abstract = append(abstract, s.Label+": "+string(s.Text))
			} else {
				abstract = append(abstract, string(s.Text))
			}
		}
		a.Abstract = strings.Join(abstract, "\n")

		seenAff := map[string]bool{}
		for _, au := range mc.Article.Authors {
			switch {
			case au.LastName != "" && au.ForeName != "":
				a.Authors = append(a.Authors, au.LastName+", "+au.ForeName)
			case au.LastName != "" && au.Initials != "":
				a.Authors = append(a.Authors, au.LastName+", "+au.Initials)
			case au.LastName != "":
				a.Authors = append(a.Authors, au.LastName)
			case au.CollectiveName != "":
				a.Authors = append(a.Authors, string(au.CollectiveName))
			}
			for _, aff := range au.Affiliations {
				if s := string(aff); s != "" && !seenAff[s] {
					seenAff[s] = true
					a.Affiliations = append(a.Affiliations, s)
				}
			}
		}

		for _, m := range mc.Mesh {
			if d := strings.TrimSpace(m.Descriptor); d != "" {
				a.MeshTerms = append(a.MeshTerms, d)
			}
		}
		for _, k := range mc.Keywords {
			if k != "" {
				a.Keywords = append(a.Keywords, string(k))
			}
		}

		for _, id := range pa.Data.IDs {
			v := strings.TrimSpace(id.Value)
			switch id.Type {
			case "doi":
				if a.DOI == "" {
					a.DOI = v
				}
			case "pmc":
				if a.PMCID == "" {
					a.PMCID = v
				}
			}
		}
		if a.DOI == "" {
			for _, el := range mc.Article.ELocations {
				if el.Type == "doi" {
					a.DOI = strings.TrimSpace(el.Value)
					break
				}
			}
		}

		articles = append(articles, a)
	}
	return articles, nil
}

func pubDate(pa pubmedArticle) string {
	d := pa.Citation.Article.Journal.Issue.PubDate
	if d.Year == "" {
		return strings.TrimSpace(d.MedlineDate)
	}
	parts := []string{strings.TrimSpace(d.Year)}
	if m := strings.TrimSpace(d.Month); m != "" {
		parts = append(parts, m)
		if day := strings.TrimSpace(d.Day); day != "" {
			parts = append(parts, day)
		}
	}
	return strings.Join(parts, " ")
}
