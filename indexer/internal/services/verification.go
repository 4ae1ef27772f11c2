package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// A deployment counts as derived from a catalog template when more than
// this share of its normalized source matches.
const verificationThreshold = 0.95

// CatalogTemplate is one entry of the published template catalog.
type CatalogTemplate struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// VerificationResult is attached to every recorded deployment. CodeHash
// is always set; TemplateID and SimilarityScore only on a match.
type VerificationResult struct {
	Verified        bool
	TemplateID      *int
	SimilarityScore *float64
	CodeHash        string
}

// VerificationService scores deployed contract source against the
// catalog. Templates are compared in catalog order; the first one over
// the threshold wins.
type VerificationService struct {
	templates  []CatalogTemplate
	normalized []string
}

// LoadCatalog reads the template catalog JSON. A missing file is not an
// error; verification then degrades to hash-only results.
func LoadCatalog(path string) ([]CatalogTemplate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog %s: %w", path, err)
	}
	var templates []CatalogTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog %s: %w", path, err)
	}
	return templates, nil
}

func NewVerificationService(templates []CatalogTemplate) *VerificationService {
	normalized := make([]string, len(templates))
	for i, tpl := range templates {
		normalized[i] = normalizeClaritySource(tpl.Code)
	}
	return &VerificationService{templates: templates, normalized: normalized}
}

// Verify hashes the deployed source and looks for a catalog template it
// was derived from.
func (s *VerificationService) Verify(codeBody string) VerificationResult {
	hash := sha256.Sum256([]byte(strings.TrimSpace(codeBody)))
	result := VerificationResult{CodeHash: hex.EncodeToString(hash[:])}

	if len(s.templates) == 0 {
		return result
	}

	normalized := normalizeClaritySource(codeBody)
	for i, tpl := range s.templates {
		score := similarity(normalized, s.normalized[i])
		if score > verificationThreshold {
			id := tpl.ID
			result.Verified = true
			result.TemplateID = &id
			result.SimilarityScore = &score
			return result
		}
	}
	return result
}

var (
	clarityCommentPattern = regexp.MustCompile(`(?m);;.*$`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
)

// normalizeClaritySource strips line comments and collapses whitespace so
// formatting differences do not count against similarity.
func normalizeClaritySource(code string) string {
	code = clarityCommentPattern.ReplaceAllString(code, "")
	code = whitespacePattern.ReplaceAllString(code, " ")
	return strings.TrimSpace(code)
}

// similarity is the share of characters both texts agree on, computed
// over a character-level diff.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)

	matching := 0
	total := 0
	for _, d := range diffs {
		n := len(d.Text)
		total += n
		if d.Type == diffmatchpatch.DiffEqual {
			matching += n
		}
	}
	if total == 0 {
		return 1
	}
	return float64(matching) / float64(total)
}
