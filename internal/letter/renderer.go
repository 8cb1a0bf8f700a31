// Package letter renders the final eviction-protection letter. Rendering is
// deterministic: the same record, locale and date always produce the same
// HTML.
package letter

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/wizard/fields"
)

// dataSchema is checked before every render so a template never sees a record
// with the letter-critical fields missing.
const dataSchema = `{
	"type": "object",
	"properties": {
		"date": {"type": "string", "minLength": 1},
		"tenant_name": {"type": "string", "minLength": 1},
		"tenant_address": {"type": "array", "items": {"type": "string"}, "minItems": 3},
		"landlord_name": {"type": "string", "minLength": 1},
		"landlord_address": {"type": "array", "items": {"type": "string"}, "minItems": 3},
		"reason": {"type": "string", "enum": ["PLANNED_INCREASE", "NON_RENEWAL"]}
	},
	"required": ["date", "tenant_name", "tenant_address", "landlord_name", "landlord_address", "reason"]
}`

// letterData is the flattened input handed to the templates.
type letterData struct {
	Date            string   `json:"date"`
	TenantName      string   `json:"tenant_name"`
	TenantAddress   []string `json:"tenant_address"`
	LandlordName    string   `json:"landlord_name"`
	LandlordAddress []string `json:"landlord_address"`
	Reason          string   `json:"reason"`
}

const letterTemplateEN = `<!DOCTYPE html>
<html lang="en">
<body>
<p>{{.Date}}</p>
<p>{{.LandlordName}}<br>{{range .LandlordAddress}}{{.}}<br>{{end}}</p>
<p>Dear {{.LandlordName}},</p>
{{if eq .Reason "PLANNED_INCREASE"}}<p>I am writing regarding the rent increase you have proposed for my home. Under the Housing Stability and Tenant Protection Act, a rent increase of more than five percent requires advance written notice, and an unreasonable increase may be contested. I do not agree to the proposed increase and I am asserting my rights under the law.</p>
{{else}}<p>I am writing regarding your stated intention not to renew my lease. Under the law of this state, a landlord must provide good cause and proper advance notice before declining to renew a tenancy. No such cause has been provided, and I am asserting my right to remain in my home.</p>
{{end}}<p>Please direct any response in writing to the address below. I am keeping a copy of this letter for my records.</p>
<p>Sincerely,<br>{{.TenantName}}<br>{{range .TenantAddress}}{{.}}<br>{{end}}</p>
</body>
</html>`

const letterTemplateES = `<!DOCTYPE html>
<html lang="es">
<body>
<p>{{.Date}}</p>
<p>{{.LandlordName}}<br>{{range .LandlordAddress}}{{.}}<br>{{end}}</p>
<p>Estimado/a {{.LandlordName}}:</p>
{{if eq .Reason "PLANNED_INCREASE"}}<p>Le escribo con respecto al aumento de renta que ha propuesto para mi vivienda. Conforme a la ley de protección al inquilino, un aumento de más del cinco por ciento requiere aviso previo por escrito, y un aumento injustificado puede ser impugnado. No acepto el aumento propuesto y hago valer mis derechos bajo la ley.</p>
{{else}}<p>Le escribo con respecto a su intención declarada de no renovar mi contrato de arrendamiento. Conforme a la ley de este estado, el arrendador debe presentar una causa justificada y dar aviso previo adecuado antes de negarse a renovar un arrendamiento. No se ha presentado tal causa, y hago valer mi derecho a permanecer en mi vivienda.</p>
{{end}}<p>Le pido que dirija cualquier respuesta por escrito a la dirección indicada abajo. Conservo una copia de esta carta para mis registros.</p>
<p>Atentamente,<br>{{.TenantName}}<br>{{range .TenantAddress}}{{.}}<br>{{end}}</p>
</body>
</html>`

var dateLayouts = map[string]string{
	"en": "January 2, 2006",
	"es": "2/1/2006",
}

// Renderer compiles the locale templates once and renders letters from them.
type Renderer struct {
	templates map[string]*template.Template
	schema    *gojsonschema.Schema
}

func NewRenderer() (*Renderer, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(dataSchema))
	if err != nil {
		return nil, fmt.Errorf("compile letter data schema: %w", err)
	}

	templates := map[string]*template.Template{}
	for locale, text := range map[string]string{
		"en": letterTemplateEN,
		"es": letterTemplateES,
	} {
		tmpl, err := template.New(locale).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s letter template: %w", locale, err)
		}
		templates[locale] = tmpl
	}

	return &Renderer{templates: templates, schema: compiled}, nil
}

// Locales lists the locales the renderer can produce.
func (r *Renderer) Locales() []string {
	locales := make([]string, 0, len(r.templates))
	for locale := range r.templates {
		locales = append(locales, locale)
	}
	return locales
}

func addressLines(a fields.MailingAddress) []string {
	lines := []string{a.PrimaryLine}
	if a.SecondaryLine != "" {
		lines = append(lines, a.SecondaryLine)
	}
	if a.Urbanization != "" {
		lines = append(lines, a.Urbanization)
	}
	lines = append(lines, fmt.Sprintf("%s, %s %s", a.City, a.State, a.Zip))
	return lines
}

// Render produces the letter HTML for the given record, locale and date.
// Unknown locales fall back to English.
func (r *Renderer) Render(f *fields.FormFields, locale string, date time.Time) (string, error) {
	tmpl, ok := r.templates[locale]
	if !ok {
		tmpl = r.templates["en"]
		locale = "en"
	}

	data := letterData{
		Date:            date.Format(dateLayouts[locale]),
		TenantName:      f.User.FullName(),
		TenantAddress:   addressLines(f.User.Address),
		LandlordName:    f.Landlord.Name,
		LandlordAddress: addressLines(f.Landlord.Address),
		Reason:          string(f.Reason),
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", errors.NewRenderFailedError(err)
	}
	result, err := r.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return "", errors.NewRenderFailedError(err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return "", errors.NewRenderFailedError(
			fmt.Errorf("letter data incomplete: %s", strings.Join(details, "; ")))
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", errors.NewRenderFailedError(err)
	}
	return out.String(), nil
}
