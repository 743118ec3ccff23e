package htmlform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var (
	templateModelRe = regexp.MustCompile(`templateModel: (.*?),\n`)
	csrfTokenRe     = regexp.MustCompile(`csrf_token: '(.*?)'`)
)

// CSRFField is the bag key the script csrf_token literal is stored under.
const CSRFField = "_csrf"

// ModelSpec selects what ParseScriptModel keeps from a templateModel literal.
type ModelSpec struct {
	// Fields are the top-level model keys copied into the bag.
	Fields []string
	// TargetField is the model key holding the submission URL.
	TargetField string
	// Transform post-processes the selected keys before they are stringified.
	Transform func(selected map[string]any)
}

// CredentialsModel describes the password page of the sign-in service.
var CredentialsModel = ModelSpec{
	Fields:      []string{"relayState", "hmac", "registerCredentialsPath", "error", "errorCode"},
	TargetField: "postAction",
}

// TermsModel describes the terms and conditions page shown after a legal document update.
var TermsModel = ModelSpec{
	Fields:      []string{"relayState", "hmac", "countryOfResidence", "legalDocuments"},
	TargetField: "loginUrl",
	Transform:   flattenLegalDocuments,
}

type scriptState int

const (
	outsideScript scriptState = iota
	insideScript
)

// ParseScriptModel scans the <script> blocks of body for a "templateModel: {...}," literal
// and extracts the fields selected by spec. Without a literal the result is empty.
func ParseScriptModel(body string, spec ModelSpec) Form {
	form := Form{Fields: Fields{}}
	state := outsideScript

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return form
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "script" {
				state = insideScript
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "script" {
				state = outsideScript
			}
		case html.TextToken:
			if state != insideScript {
				continue
			}
			if parsed, ok := parseModel(z.Text(), spec); ok {
				form = parsed
			}
		}
	}
}

func parseModel(text []byte, spec ModelSpec) (Form, bool) {
	match := templateModelRe.FindSubmatch(text)
	if match == nil {
		return Form{}, false
	}

	dec := json.NewDecoder(bytes.NewReader(match[1]))
	dec.UseNumber()
	var model map[string]any
	if err := dec.Decode(&model); err != nil {
		return Form{}, false
	}

	form := Form{Fields: Fields{}}
	if target, ok := model[spec.TargetField].(string); ok {
		form.Target = target
	}

	selected := make(map[string]any, len(spec.Fields))
	for _, k := range spec.Fields {
		if v, ok := model[k]; ok && v != nil {
			selected[k] = v
		}
	}
	if spec.Transform != nil {
		spec.Transform(selected)
	}
	for k, v := range selected {
		if s, ok := stringify(v); ok {
			form.Fields[k] = s
		}
	}

	if csrf := csrfTokenRe.FindSubmatch(text); csrf != nil {
		form.Fields[CSRFField] = string(csrf[1])
	}
	return form, true
}

var skippedLegalDocumentKeys = map[string]bool{
	"skipLink":      true,
	"declineLink":   true,
	"majorVersion":  true,
	"minorVersion":  true,
	"changeSummary": true,
}

// flattenLegalDocuments moves the first legal document into "legalDocuments[0].<key>" entries.
func flattenLegalDocuments(selected map[string]any) {
	if country, ok := selected["countryOfResidence"].(string); ok {
		selected["countryOfResidence"] = strings.ToUpper(country)
	}

	docs, ok := selected["legalDocuments"].([]any)
	delete(selected, "legalDocuments")
	if !ok || len(docs) == 0 {
		return
	}
	first, ok := docs[0].(map[string]any)
	if !ok {
		return
	}

	for k, v := range first {
		if skippedLegalDocumentKeys[k] || v == nil {
			continue
		}
		switch val := v.(type) {
		case bool:
			v = "no"
			if val {
				v = "yes"
			}
		case string:
			if k == "countryOfResidence" {
				v = strings.ToUpper(val)
			}
		}
		selected[fmt.Sprintf("legalDocuments[0].%s", k)] = v
	}
}

func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
