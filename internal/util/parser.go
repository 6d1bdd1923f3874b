package util

import (
	"strings"

	"golang.org/x/net/html"
)

// ParseLinks returns the href values of every <a> element whose href
// contains substr (case-insensitive), in document order.
func ParseLinks(n *html.Node, substr string) []string {
	var out []string
	var walk func(*html.Node)
	needle := strings.ToLower(substr)

	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key == "href" {
					if strings.Contains(strings.ToLower(a.Val), needle) && a.Val != "/" {
						out = append(out, a.Val)
					}
					break
				}
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return out
}
