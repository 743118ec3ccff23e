package htmlform

import (
	"strings"

	"golang.org/x/net/html"
)

type formState int

const (
	outsideForm formState = iota
	insideTargetForm
)

// ParseForm scans body for the form with the given id and returns its action and inputs.
// Forms with other ids are ignored. When the form is absent the result is empty.
func ParseForm(body, formID string) Form {
	form := Form{Fields: Fields{}}
	state := outsideForm

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return form

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			attrs := readAttrs(z, hasAttr)
			switch string(name) {
			case "input":
				if state != insideTargetForm {
					continue
				}
				if n := attrs["name"]; n != "" {
					form.Fields[n] = attrs["value"]
				}
			case "form":
				if attrs["id"] == formID {
					state = insideTargetForm
					form.Target = attrs["action"]
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "form" && state == insideTargetForm {
				state = outsideForm
			}
		}
	}
}

func readAttrs(z *html.Tokenizer, more bool) map[string]string {
	attrs := map[string]string{}
	for more {
		var key, val []byte
		key, val, more = z.TagAttr()
		attrs[string(key)] = string(val)
	}
	return attrs
}
