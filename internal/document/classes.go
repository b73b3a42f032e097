package document

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
)

// HasClass reports whether n's class attribute holds class.
func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(selector.Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass appends class to n unless already present.
func AddClass(n *html.Node, class string) {
	if class == "" || HasClass(n, class) {
		return
	}
	existing := strings.TrimSpace(selector.Attr(n, "class"))
	if existing == "" {
		SetAttr(n, "class", class)
		return
	}
	SetAttr(n, "class", existing+" "+class)
}

// RemoveClass drops every occurrence of class from n. The attribute is
// removed once empty.
func RemoveClass(n *html.Node, class string) {
	fields := strings.Fields(selector.Attr(n, "class"))
	kept := fields[:0]
	for _, c := range fields {
		if c != class {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		RemoveAttr(n, "class")
		return
	}
	SetAttr(n, "class", strings.Join(kept, " "))
}
