package elaborate

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/procflow-ai/procflow/pkg/models"
)

// Fingerprint derives the content-addressed cache key for a node from its
// title, kind, parent title and sibling context. Matching is exact: fuzzy or
// near-duplicate matching is deliberately out of scope.
func Fingerprint(title string, kind models.NodeKind, parentTitle string, siblingTitles []string) string {
	siblings := make([]string, 0, len(siblingTitles))
	for _, s := range siblingTitles {
		siblings = append(siblings, strings.ToLower(strings.TrimSpace(s)))
	}
	sort.Strings(siblings)

	h := sha256.New()
	for _, part := range []string{
		strings.ToLower(strings.TrimSpace(title)),
		string(kind),
		strings.ToLower(strings.TrimSpace(parentTitle)),
		strings.Join(siblings, "\x1f"),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NodeFingerprint computes the fingerprint for a resolved node in its
// document context.
func NodeFingerprint(doc *models.Document, n *models.ProcessNode) string {
	var parentTitle string
	var siblingIDs []string
	if n.ParentID != "" {
		parent := doc.Node(n.ParentID)
		if parent != nil {
			parentTitle = parent.Title
			siblingIDs = parent.ChildIDs
		}
	} else {
		siblingIDs = doc.RootIDs
	}

	siblings := make([]string, 0, len(siblingIDs))
	for _, id := range siblingIDs {
		if id == n.ID {
			continue
		}
		if sib := doc.Node(id); sib != nil {
			siblings = append(siblings, sib.Title)
		}
	}

	return Fingerprint(n.Title, n.Kind, parentTitle, siblings)
}
